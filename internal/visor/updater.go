package visor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dep2p/hl-bootstrap/internal/chain"
)

// 二进制发布地址
const (
	mainnetBinaryURL = "https://binaries.hyperliquid.xyz/Mainnet/hl-visor"
	testnetBinaryURL = "https://binaries.hyperliquid-testnet.xyz/Testnet/hl-visor"
)

// Updater hl-visor 二进制更新器
//
// 用 ETag 判断远端是否有新版本；有则下载二进制和签名，
// gpg 验签通过后原子安装。
type Updater struct {
	dir    string
	client *http.Client

	// verify 验签函数，测试时可替换
	verify func(sigPath, binPath string) error
}

// NewUpdater 创建更新器
func NewUpdater(dir string) *Updater {
	return &Updater{
		dir:    dir,
		client: &http.Client{Timeout: 5 * time.Minute},
		verify: gpgVerify,
	}
}

// BinaryURL 返回网络对应的二进制地址
func BinaryURL(network chain.Network) string {
	if network == chain.Testnet {
		return testnetBinaryURL
	}
	return mainnetBinaryURL
}

// EnsureLatest 确保本地 hl-visor 为最新版本
//
// 远端 ETag 与本地记录一致时直接返回。更新失败不应阻止
// 引导流程：调用方按告警处理。
func (u *Updater) EnsureLatest(ctx context.Context, network chain.Network) error {
	log.Debug("检查 hl-visor 更新", "chain", network.String())
	return u.ensureLatestFrom(ctx, BinaryURL(network))
}

func (u *Updater) ensureLatestFrom(ctx context.Context, binaryURL string) error {
	binPath := filepath.Join(u.dir, "hl-visor")
	etagPath := filepath.Join(u.dir, ".hl-visor.etag")

	newETag, err := u.fetchETag(ctx, binaryURL)
	if err != nil {
		return fmt.Errorf("获取 hl-visor etag 失败: %w", err)
	}

	currentETag, err := readETag(etagPath)
	if err != nil {
		log.Warn("读取已记录的 etag 失败", "path", etagPath, "err", err)
	}
	if currentETag != "" && currentETag == newETag {
		log.Debug("hl-visor 已是最新", "etag", currentETag)
		return nil
	}

	log.Info("下载新的 hl-visor 二进制", "url", binaryURL, "etag", newETag)

	binTmp, err := os.CreateTemp(u.dir, ".hl-visor-*.tmp")
	if err != nil {
		return err
	}
	binTmpPath := binTmp.Name()
	defer func() { _ = os.Remove(binTmpPath) }()

	sigTmp, err := os.CreateTemp(u.dir, ".hl-visor-sig-*.tmp")
	if err != nil {
		_ = binTmp.Close()
		return err
	}
	sigTmpPath := sigTmp.Name()
	defer func() { _ = os.Remove(sigTmpPath) }()

	if err := u.download(ctx, binaryURL, binTmp); err != nil {
		_ = sigTmp.Close()
		return fmt.Errorf("下载 hl-visor 失败: %w", err)
	}
	if err := u.download(ctx, binaryURL+".asc", sigTmp); err != nil {
		return fmt.Errorf("下载 hl-visor 签名失败: %w", err)
	}

	if err := u.verify(sigTmpPath, binTmpPath); err != nil {
		return fmt.Errorf("hl-visor 验签失败: %w", err)
	}

	if err := os.Chmod(binTmpPath, 0o755); err != nil {
		return err
	}
	if err := os.Rename(binTmpPath, binPath); err != nil {
		return fmt.Errorf("安装 hl-visor 失败: %w", err)
	}

	if err := os.WriteFile(etagPath, []byte(newETag), 0o644); err != nil {
		log.Warn("记录 etag 失败", "path", etagPath, "err", err)
	}

	log.Info("hl-visor 更新完成", "path", binPath, "etag", newETag)
	return nil
}

// fetchETag 获取远端 ETag
func (u *Updater) fetchETag(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("非预期状态码: %s", resp.Status)
	}

	etag := strings.TrimSpace(resp.Header.Get("ETag"))
	if etag == "" {
		return "", errors.New("响应缺少 ETag 头")
	}
	return etag, nil
}

// download 下载到已打开的临时文件并关闭它
func (u *Updater) download(ctx context.Context, url string, dst *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		_ = dst.Close()
		return err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		_ = dst.Close()
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_ = dst.Close()
		return fmt.Errorf("非预期状态码: %s", resp.Status)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// readETag 读取本地记录的 ETag
func readETag(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// gpgVerify 用 gpg 验证分离签名
func gpgVerify(sigPath, binPath string) error {
	out, err := exec.Command("gpg", "--verify", sigPath, binPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("gpg --verify 失败: %v: %s", err, out)
	}
	return nil
}
