// Package supervisor 实现进程监督器。
// 监督器用同一个二进制以不同的 -role 参数拉起各逻辑单元，
// 同时监视进程退出和共享内存头里的心跳。任何单元死亡或心跳失联
// 都会重启整个进程组，环形缓冲区随之重建，保证游标一致。
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"binance-signal-bot-go/internal/models"
	"binance-signal-bot-go/internal/ring"

	"go.uber.org/zap"
)

// 被监督的逻辑单元及其在共享内存头里的心跳槽位。
var units = []struct {
	Role string
	Slot int
}{
	{"ingest", ring.SlotIngest},
	{"analyze", ring.SlotAnalyze},
	{"execute", ring.SlotExecute},
	{"maintain", ring.SlotMaintain},
}

// unitExit 是子进程退出的通知。
type unitExit struct {
	role string
	err  error
}

// unitProc 是一个被监督的子进程。Wait 只由监视协程调用一次，
// 其他地方一律通过 done 等待其退出。
type unitProc struct {
	role string
	cmd  *exec.Cmd
	done chan struct{}
}

// newUnitCommand 构造某个角色的启动命令。测试里会替换它。
var newUnitCommand = func(configPath, role string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("定位自身可执行文件失败: %v", err)
	}
	return exec.Command(self, "-config", configPath, "-role", role), nil
}

// Supervisor 管理整个进程组的生命周期。
type Supervisor struct {
	cfg        *models.Config
	configPath string
	logger     *zap.SugaredLogger

	procs     map[string]*unitProc
	control   *ring.Ring
	exitCh    chan unitExit
	stop      chan struct{}
	startedAt time.Time
}

// New 创建监督器。
func New(cfg *models.Config, configPath string, logger *zap.SugaredLogger) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		procs:      make(map[string]*unitProc),
		exitCh:     make(chan unitExit, len(units)),
		stop:       make(chan struct{}),
	}
}

// RingPath 返回某个交易对的环形缓冲区文件路径。
// 第一个交易对的缓冲区同时充当控制环，所有单元的心跳写在它的头部。
func RingPath(runDir, symbol string) string {
	return filepath.Join(runDir, fmt.Sprintf("ticks_%s.ring", strings.ToLower(symbol)))
}

// ControlRingPath 返回控制环的文件路径。
func ControlRingPath(cfg *models.Config) string {
	return RingPath(cfg.RunDir, cfg.Symbols[0])
}

// Run 阻塞运行，直到 Stop 被调用。
func (s *Supervisor) Run() error {
	if err := s.startGroup(); err != nil {
		return err
	}

	staleCheck := time.NewTicker(time.Second)
	defer staleCheck.Stop()

	for {
		select {
		case <-s.stop:
			s.stopGroup()
			return nil

		case exit := <-s.exitCh:
			s.logger.Errorw("逻辑单元退出，重启整个进程组", "role", exit.role, "error", exit.err)
			s.restartGroup()

		case <-staleCheck.C:
			if role, age, stale := s.staleUnit(); stale {
				s.logger.Errorw("逻辑单元心跳失联，重启整个进程组",
					"role", role, "heartbeatAge", age)
				s.restartGroup()
			}
		}
	}
}

// Stop 请求监督器优雅退出。
func (s *Supervisor) Stop() {
	close(s.stop)
}

// startGroup 重建所有环形缓冲区后拉起所有逻辑单元。
func (s *Supervisor) startGroup() error {
	if err := os.MkdirAll(s.cfg.RunDir, 0o755); err != nil {
		return fmt.Errorf("创建运行时目录失败: %v", err)
	}

	// 环形缓冲区由监督器统一重建，子进程只附着，不创建。
	for _, symbol := range s.cfg.Symbols {
		r, err := ring.Create(RingPath(s.cfg.RunDir, symbol), s.cfg.RingCapacity)
		if err != nil {
			return fmt.Errorf("创建环形缓冲区失败 %s: %v", symbol, err)
		}
		if symbol == s.cfg.Symbols[0] {
			s.control = r
		} else {
			r.Close()
		}
	}

	for _, u := range units {
		cmd, err := newUnitCommand(s.configPath, u.Role)
		if err != nil {
			s.stopGroup()
			return err
		}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			s.stopGroup()
			return fmt.Errorf("启动逻辑单元 %s 失败: %v", u.Role, err)
		}
		p := &unitProc{role: u.Role, cmd: cmd, done: make(chan struct{})}
		s.procs[u.Role] = p
		s.logger.Infow("逻辑单元已启动", "role", u.Role, "pid", cmd.Process.Pid)

		go func() {
			err := p.cmd.Wait()
			close(p.done)
			select {
			case s.exitCh <- unitExit{role: p.role, err: err}:
			case <-s.stop:
			}
		}()
	}

	s.startedAt = time.Now()
	return nil
}

// stopGroup 先广播 SIGTERM，宽限期内未退出的单元再 SIGKILL。
func (s *Supervisor) stopGroup() {
	for role, p := range s.procs {
		if p.cmd.Process == nil {
			continue
		}
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err == nil {
			s.logger.Infow("已发送终止信号", "role", role, "pid", p.cmd.Process.Pid)
		}
	}

	grace := time.Duration(s.cfg.ShutdownGraceSec) * time.Second
	deadline := time.Now().Add(grace)
	for role, p := range s.procs {
		if p.cmd.Process == nil {
			continue
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-p.done:
		case <-time.After(remaining):
			s.logger.Warnw("逻辑单元未在宽限期内退出，强制结束", "role", role)
			p.cmd.Process.Kill()
			<-p.done // Wait 由监视协程调用，这里只等它返回
		}
	}

	s.procs = make(map[string]*unitProc)
	if s.control != nil {
		s.control.Close()
		s.control = nil
	}
}

// restartGroup 整组重启。单元之间通过共享内存游标耦合，
// 只重启单个单元会留下不一致的游标，所以一律整组推倒重来。
func (s *Supervisor) restartGroup() {
	s.stopGroup()
	s.drainExits()

	for {
		err := s.startGroup()
		if err == nil {
			return
		}
		s.logger.Errorw("进程组重启失败，5秒后重试", "error", err)
		select {
		case <-s.stop:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// drainExits 丢弃停组过程中积压的退出通知，避免触发连环重启。
func (s *Supervisor) drainExits() {
	for {
		select {
		case <-s.exitCh:
		default:
			return
		}
	}
}

// staleUnit 找出第一个心跳超时的单元。
// 刚启动的进程组在失联阈值内不检查，给单元留出初始化时间。
func (s *Supervisor) staleUnit() (string, time.Duration, bool) {
	if s.control == nil {
		return "", 0, false
	}
	staleAfter := time.Duration(s.cfg.HeartbeatStaleSec) * time.Second
	if time.Since(s.startedAt) < staleAfter {
		return "", 0, false
	}

	for _, u := range units {
		age := s.control.BeatAge(u.Slot)
		if age > staleAfter {
			return u.Role, age, true
		}
	}
	return "", 0, false
}
