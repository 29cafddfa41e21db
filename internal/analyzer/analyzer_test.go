package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNoteDropsWarnsOnlyWhenCounterAdvances(t *testing.T) {
	a := &Analyzer{
		logger:  zap.NewNop().Sugar(),
		dropped: make(map[string]uint64),
	}

	// 第一次越界：全部计为新增
	assert.Equal(t, uint64(5), a.noteDrops("BTCUSDT", 5))
	// 计数没有前进就不再告警
	assert.Equal(t, uint64(0), a.noteDrops("BTCUSDT", 5))
	assert.Equal(t, uint64(0), a.noteDrops("BTCUSDT", 5))
	// 再次越界只报增量
	assert.Equal(t, uint64(3), a.noteDrops("BTCUSDT", 8))
	assert.Equal(t, uint64(0), a.noteDrops("BTCUSDT", 8))

	// 不同交易对各自独立计数
	assert.Equal(t, uint64(2), a.noteDrops("ETHUSDT", 2))
}
