// Package downloader 负责下载历史K线，用于聚合器预热。
package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"binance-signal-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	client *binance.Client
	logger *zap.SugaredLogger
}

// NewKlineDownloader 创建一个新的下载器实例
func NewKlineDownloader(logger *zap.SugaredLogger) *KlineDownloader {
	return &KlineDownloader{
		client: binance.NewClient("", ""), // 公共接口不需要API Key
		logger: logger,
	}
}

// Backfill 下载指定时间范围内的1分钟K线并返回未校验的原始行情。
// 数值保持字符串，回灌时同样要过防火墙。CSV 文件作为本地缓存。
func (d *KlineDownloader) Backfill(symbol, filePath string, startTime, endTime time.Time) ([]models.RawTick, error) {
	if err := d.DownloadKlines(symbol, filePath, startTime, endTime); err != nil {
		return nil, err
	}
	return d.LoadTicks(symbol, filePath)
}

// DownloadKlines 下载指定交易对和时间范围内的1分钟K线数据，并保存到CSV文件
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(symbol, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		d.logger.Infow("从缓存加载历史数据", "file", filePath)
		return nil
	}

	d.logger.Infow("开始下载K线数据", "symbol", symbol,
		"from", startTime.Format("2006-01-02"), "to", endTime.Format("2006-01-02"))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %v", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %v", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"open_time", "open", "high", "low", "close", "volume"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %v", err)
	}

	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval("1m").
			StartTime(t.UnixMilli()).
			Limit(1000). // 币安单次请求最多1000条
			Do(context.Background())

		if err != nil {
			return fmt.Errorf("下载K线数据失败: %v", err)
		}

		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open, k.High, k.Low, k.Close, k.Volume,
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("写入CSV记录失败: %v", err)
			}
		}

		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		time.Sleep(200 * time.Millisecond) // 避免过于频繁的请求
	}

	d.logger.Infow("K线数据下载完成", "file", filePath)
	return nil
}

// LoadTicks 从CSV缓存读出原始行情序列。
func (d *KlineDownloader) LoadTicks(symbol, filePath string) ([]models.RawTick, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法打开文件 %s: %v", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取CSV失败: %v", err)
	}

	ticks := make([]models.RawTick, 0, len(records))
	for i, rec := range records {
		if i == 0 || len(rec) < 6 {
			continue // 跳过表头和残缺行
		}
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			continue
		}
		ticks = append(ticks, models.RawTick{
			Symbol:      symbol,
			TimestampMs: ts,
			Open:        rec[1],
			High:        rec[2],
			Low:         rec[3],
			Close:       rec[4],
			Volume:      rec[5],
		})
	}
	return ticks, nil
}
