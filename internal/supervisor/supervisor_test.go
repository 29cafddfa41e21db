package supervisor

import (
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"binance-signal-bot-go/internal/models"
	"binance-signal-bot-go/internal/ring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *models.Config {
	t.Helper()
	return &models.Config{
		Symbols:           []string{"BTCUSDT"},
		RunDir:            t.TempDir(),
		RingCapacity:      64,
		HeartbeatStaleSec: 3600,
		ShutdownGraceSec:  1,
	}
}

// stubUnits 把所有角色的启动命令换成同一个shell脚本，并统计启动次数。
func stubUnits(t *testing.T, script string, started *int32) {
	t.Helper()
	old := newUnitCommand
	newUnitCommand = func(configPath, role string) (*exec.Cmd, error) {
		atomic.AddInt32(started, 1)
		return exec.Command("sh", "-c", script), nil
	}
	t.Cleanup(func() { newUnitCommand = old })
}

func TestStaleHeartbeatDetection(t *testing.T) {
	cfg := testConfig(t)
	cfg.HeartbeatStaleSec = 1
	s := New(cfg, "config.json", zap.NewNop().Sugar())

	r, err := ring.Create(ControlRingPath(cfg), cfg.RingCapacity)
	require.NoError(t, err)
	defer r.Close()
	s.control = r

	// 让所有心跳槽位过期
	time.Sleep(1200 * time.Millisecond)

	// 刚启动的进程组处于宽限期内，不判失联
	s.startedAt = time.Now()
	_, _, stale := s.staleUnit()
	assert.False(t, stale)

	// 宽限期过后，第一个失联的单元被报出来
	s.startedAt = time.Now().Add(-time.Minute)
	role, age, stale := s.staleUnit()
	require.True(t, stale)
	assert.Equal(t, "ingest", role)
	assert.Greater(t, age, time.Second)

	// 三个单元恢复心跳，剩下的那个仍被判失联
	r.Beat(ring.SlotIngest)
	r.Beat(ring.SlotAnalyze)
	r.Beat(ring.SlotExecute)
	role, _, stale = s.staleUnit()
	require.True(t, stale)
	assert.Equal(t, "maintain", role)

	r.Beat(ring.SlotMaintain)
	_, _, stale = s.staleUnit()
	assert.False(t, stale)
}

func TestUnitExitRestartsWholeGroup(t *testing.T) {
	cfg := testConfig(t)
	var started int32
	stubUnits(t, "sleep 0.05", &started)

	s := New(cfg, "config.json", zap.NewNop().Sugar())
	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	// 单元很快退出，监督器必须整组重启：至少经历两代进程组
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&started) >= 8
	}, 10*time.Second, 20*time.Millisecond)

	s.Stop()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("监督器未能退出")
	}

	// 重启永远以完整的一组为单位
	assert.Zero(t, atomic.LoadInt32(&started)%int32(len(units)))
}

func TestStopGroupKillsUnitIgnoringSigterm(t *testing.T) {
	cfg := testConfig(t)
	var started int32
	stubUnits(t, `trap '' TERM; sleep 5`, &started)

	s := New(cfg, "config.json", zap.NewNop().Sugar())
	require.NoError(t, s.startGroup())
	require.Equal(t, int32(len(units)), atomic.LoadInt32(&started))

	begin := time.Now()
	s.stopGroup()

	// 宽限期1秒后强制结束，不会等到脚本自己睡醒
	assert.Less(t, time.Since(begin), 4*time.Second)
	assert.Empty(t, s.procs)
}
