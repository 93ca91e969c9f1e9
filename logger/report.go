package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed     int64
	errorsBook     int64
	warnsFeed      int64
	warnsBook      int64
	snapshotFrames int64
	deltaFrames    int64
	drainsApplied  int64
	viewsPublished int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "feed") || strings.Contains(component, "transport") {
		atomic.AddInt64(&warnsFeed, 1)
	} else {
		atomic.AddInt64(&warnsBook, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "feed") || strings.Contains(component, "transport") {
		atomic.AddInt64(&errorsFeed, 1)
	} else {
		atomic.AddInt64(&errorsBook, 1)
	}
}

// IncrementSnapshotFrame counts an authoritative full-book frame.
func IncrementSnapshotFrame(size int) {
	atomic.AddInt64(&snapshotFrames, 1)
	recordChannel("feed_snapshot", size)
}

// IncrementDeltaFrame counts an incremental update frame.
func IncrementDeltaFrame(size int) {
	atomic.AddInt64(&deltaFrames, 1)
	recordChannel("feed_delta", size)
}

// IncrementDrainApplied counts a reconciled scheduler batch.
func IncrementDrainApplied(deltas int) {
	atomic.AddInt64(&drainsApplied, 1)
	recordChannel("scheduler_drain", deltas)
}

// IncrementViewPublished counts a rendered depth view handed to a consumer.
func IncrementViewPublished(size int) {
	atomic.AddInt64(&viewsPublished, 1)
	recordChannel("view_publish", size)
}

// RecordChannelMessage tracks arbitrary channel throughput by name.
func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of system and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}

	fields := Fields{
		"errors_feed":     atomic.LoadInt64(&errorsFeed),
		"errors_book":     atomic.LoadInt64(&errorsBook),
		"warns_feed":      atomic.LoadInt64(&warnsFeed),
		"warns_book":      atomic.LoadInt64(&warnsBook),
		"snapshot_frames": atomic.LoadInt64(&snapshotFrames),
		"delta_frames":    atomic.LoadInt64(&deltaFrames),
		"drains_applied":  atomic.LoadInt64(&drainsApplied),
		"views_published": atomic.LoadInt64(&viewsPublished),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       memMB,
		"channels":        channelData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		{MetricName: aws.String("ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsFeed)))},
		{MetricName: aws.String("ErrorsBook"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsBook)))},
		{MetricName: aws.String("WarnsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsFeed)))},
		{MetricName: aws.String("WarnsBook"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsBook)))},
		{MetricName: aws.String("SnapshotFrames"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&snapshotFrames)))},
		{MetricName: aws.String("DeltaFrames"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&deltaFrames)))},
		{MetricName: aws.String("DrainsApplied"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&drainsApplied)))},
		{MetricName: aws.String("ViewsPublished"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&viewsPublished)))},
	}

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
