package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrLaunch 节点进程启动失败
var ErrLaunch = errors.New("node launch failed")

// NeedsChild 移交后是否仍有后台任务需要本进程存活
//
// 辅助服务或数据清理任务启用时无法 exec 替换自身，只能以
// 父进程身份托管节点子进程。
func (s *Supervisor) NeedsChild() bool {
	return s.cfg.AuxServersEnabled() || s.cfg.PruneEnabled()
}

// Launch 把控制权交给节点进程
//
// 没有后台任务时用 exec 直接替换当前进程：信号原样到达节点，
// 退出码就是节点的退出码。有后台任务时退而求其次，以子进程
// 方式托管，转发 SIGINT/SIGTERM 并透传退出码。
//
// exec 路径成功时不返回。子进程路径返回节点的退出码。
func (s *Supervisor) Launch() (int, error) {
	if s.state != StateLaunching {
		return 1, fmt.Errorf("%w: 引导尚未完成 (state=%s)", ErrLaunch, s.state.String())
	}

	binPath, err := exec.LookPath(s.cfg.NodeBinary)
	if err != nil {
		s.setState(StateAborted)
		return 1, fmt.Errorf("%w: 找不到节点可执行文件 %s: %v", ErrLaunch, s.cfg.NodeBinary, err)
	}

	if !s.NeedsChild() {
		return s.execReplace(binPath)
	}
	return s.superviseChild(binPath)
}

// execReplace 用节点进程替换当前进程
func (s *Supervisor) execReplace(binPath string) (int, error) {
	argv := append([]string{binPath}, s.cfg.NodeArgs...)
	log.Info("移交控制权（exec 替换）", "binary", binPath, "args", s.cfg.NodeArgs)
	s.setState(StateHandoff)

	if err := unix.Exec(binPath, argv, os.Environ()); err != nil {
		s.setState(StateAborted)
		return 1, fmt.Errorf("%w: exec %s: %v", ErrLaunch, binPath, err)
	}
	// 不可达：Exec 成功时不返回
	return 0, nil
}

// superviseChild 以子进程方式托管节点
//
// SIGINT/SIGTERM 转发给子进程，由子进程决定如何退出；
// 返回值是子进程的退出码。
func (s *Supervisor) superviseChild(binPath string) (int, error) {
	cmd := exec.Command(binPath, s.cfg.NodeArgs...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.Info("移交控制权（子进程托管）", "binary", binPath, "args", s.cfg.NodeArgs)
	if err := cmd.Start(); err != nil {
		s.setState(StateAborted)
		return 1, fmt.Errorf("%w: 启动 %s: %v", ErrLaunch, binPath, err)
	}
	s.setState(StateHandoff)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case sig := <-sigCh:
			log.Info("转发信号给节点进程", "signal", sig.String())
			_ = cmd.Process.Signal(sig)
		case err := <-done:
			return exitCode(err), nil
		}
	}
}

// exitCode 从 Wait 的返回值提取退出码
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	log.Error("等待节点进程失败", "err", err)
	return 1
}
