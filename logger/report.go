package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type sessionStat struct {
	records int64
	bytes   int64
}

var (
	errorsTotal   int64
	warnsTotal    int64
	recordsTotal  int64
	carryOvers    int64
	archiveWrites int64
	sessions      sync.Map // map[string]*sessionStat
)

func recordWarn(component string) {
	atomic.AddInt64(&warnsTotal, 1)
}

func recordError(component string) {
	atomic.AddInt64(&errorsTotal, 1)
}

// IncrementRecords accounts records and payload bytes dispatched by one
// session's framing reader.
func IncrementRecords(session string, count, size int) {
	atomic.AddInt64(&recordsTotal, int64(count))
	v, _ := sessions.LoadOrStore(session, &sessionStat{})
	ss := v.(*sessionStat)
	atomic.AddInt64(&ss.records, int64(count))
	atomic.AddInt64(&ss.bytes, int64(size))
}

// IncrementCarryOver accounts one partial record carried across a receive
// completion boundary. These should stay rare; growth signals misaligned
// gateway packets.
func IncrementCarryOver() {
	atomic.AddInt64(&carryOvers, 1)
}

// IncrementArchiveWrite accounts one latency-archive write, to S3 or a local
// file.
func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
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

// StartReport begins periodic logging of system and session statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)

	sessionData := map[string]map[string]int64{}
	sessions.Range(func(k, v any) bool {
		name := k.(string)
		ss := v.(*sessionStat)
		sessionData[name] = map[string]int64{
			"records": atomic.LoadInt64(&ss.records),
			"bytes":   atomic.LoadInt64(&ss.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors":         atomic.LoadInt64(&errorsTotal),
		"warns":          atomic.LoadInt64(&warnsTotal),
		"records":        atomic.LoadInt64(&recordsTotal),
		"carry_overs":    atomic.LoadInt64(&carryOvers),
		"archive_writes": atomic.LoadInt64(&archiveWrites),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"sessions":       sessionData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Records"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["records"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("CarryOvers"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["carry_overs"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range sessionData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("SessionRecords"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Session"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["records"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("SessionBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Session"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
