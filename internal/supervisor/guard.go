package supervisor

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/dep2p/hl-bootstrap/internal/chain"
	"github.com/dep2p/hl-bootstrap/internal/visor"
)

// ErrNetworkMismatch 声明的网络与部署环境的网络不一致
//
// 这是整个流程的第一道检查：主网的发现流量打到测试网部署
// （或反过来）属于静默损坏级别的配置错误，必须在发出任何
// 网络请求之前失败。
var ErrNetworkMismatch = errors.New("network mismatch")

// ResolveNetwork 校验并解析本次运行的网络身份
//
// 部署环境通过 visor.json 声明节点属于哪个网络：
// - 显式指定了 --network 且 visor.json 存在：两者必须一致
// - 显式指定且 visor.json 不存在：以指定值为准
// - 未显式指定且 visor.json 存在：以 visor.json 为准
// - 两者都没有：使用默认网络
//
// 该函数不发出任何网络 I/O。
func ResolveNetwork(declared chain.Network, explicit bool, visorConfigPath string) (chain.Network, error) {
	vc, err := visor.ReadConfig(visorConfigPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug("未找到 hl-visor 配置，使用声明的网络",
				"network", declared.String())
			return declared, nil
		}
		if explicit {
			log.Warn("hl-visor 配置不可读，以显式指定的网络为准", "err", err)
			return declared, nil
		}
		return 0, fmt.Errorf("%w: 无法推断网络身份: %v", ErrNetworkMismatch, err)
	}

	if explicit && declared != vc.Chain {
		return 0, fmt.Errorf("%w: 指定了 %s，但部署环境声明为 %s",
			ErrNetworkMismatch, declared.String(), vc.Chain.String())
	}

	if !explicit {
		log.Info("从 hl-visor 配置推断网络", "network", vc.Chain.String())
	}
	return vc.Chain, nil
}
