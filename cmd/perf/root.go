package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/kqnet/cmd/demo"
	"github.com/ValentinKolb/kqnet/cmd/util"
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/rpc/client"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"strconv"
	"testing"
	"time"
)

var (
	// PerfCmd benchmarks a running demo server
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for kqnet demo servers",
		Long:    `Runs round trip and relay benchmarks against a running "kqnet serve" instance.`,
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfEndpoint         = "localhost:60000"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfSkip             = map[string]bool{}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupConnFlags(PerfCmd)

	// add flags
	key := "endpoint"
	PerfCmd.PersistentFlags().String(key, perfEndpoint, util.WrapString("The address of the kqnet server"))
	key = "skip"
	PerfCmd.PersistentFlags().StringSlice(key, nil, util.WrapString("Benchmarks to skip (comma separated - e.g. roundtrip,relay)"))
	key = "threads"
	PerfCmd.PersistentFlags().Int(key, perfNumThreads, util.WrapString("Number of goroutines sending in parallel"))
	key = "large-value-size"
	PerfCmd.PersistentFlags().Int(key, perfLargeValueSizeKB, util.WrapString("Payload size of the roundtrip-large benchmark (in KB)"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfEndpoint = viper.GetString("endpoint")
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = map[string]bool{}
	for _, name := range viper.GetStringSlice("skip") {
		perfSkip[name] = true
	}

	return util.InitLogging()
}

// benchmark is one named benchmark run
type benchmark struct {
	name string
	fn   func(b *testing.B)
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for kqnet servers")

	config := util.GetClientConfig()

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Endpoint: %s\n", perfEndpoint)
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	sender, err := dial(config)
	if err != nil {
		return err
	}
	defer sender.Disconnect()

	receiver, err := dial(config)
	if err != nil {
		return err
	}
	defer receiver.Disconnect()

	benchmarks := []benchmark{
		{"roundtrip", func(b *testing.B) { roundTrip(b, sender, nil) }},
		{"roundtrip-large", func(b *testing.B) { roundTrip(b, sender, make([]byte, perfLargeValueSizeKB*1024)) }},
		{"relay", func(b *testing.B) { relay(b, sender, receiver) }},
	}

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		if perfSkip[bm.name] {
			results[bm.name] = testing.BenchmarkResult{}
			printResult(bm.name, results[bm.name])
			continue
		}
		result := testing.Benchmark(bm.fn)
		results[bm.name] = result
		printResult(bm.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

// roundTrip sends RequestAccept (with an optional payload) and waits for any
// ServerAccept. Replies are not matched to requests, only counted.
func roundTrip(b *testing.B, c *client.Client[demo.MsgID], payload []byte) {
	req := message.New(demo.RequestAccept)
	if len(payload) > 0 {
		if err := message.AppendBytes(req, payload); err != nil {
			b.Fatalf("failed to build request: %v", err)
		}
	}
	c.Incoming().Clear()

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := c.Send(req); err != nil {
				log.Printf("(roundtrip) - error sending: %v\n", err)
				return
			}
			if err := awaitReply(c); err != nil {
				log.Printf("(roundtrip) - error receiving: %v\n", err)
				return
			}
		}
	})
}

// relay sends MessageRequest from one client and waits for the MessageSent at the other
func relay(b *testing.B, from, to *client.Client[demo.MsgID]) {
	req := message.New(demo.MessageRequest)
	if err := message.AppendString(req, "perf"); err != nil {
		b.Fatalf("failed to build request: %v", err)
	}
	to.Incoming().Clear()

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := from.Send(req); err != nil {
				log.Printf("(relay) - error sending: %v\n", err)
				return
			}
			if err := awaitReply(to); err != nil {
				log.Printf("(relay) - error receiving: %v\n", err)
				return
			}
		}
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func dial(config common.ClientConfig) (*client.Client[demo.MsgID], error) {
	host, port, err := util.SplitEndpoint(perfEndpoint)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := client.New[demo.MsgID](demo.Scramble, config)
	if err := c.Connect(ctx, host, port); err != nil {
		return nil, err
	}
	if err := c.WaitValidated(ctx); err != nil {
		c.Disconnect()
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return c, nil
}

func awaitReply(c *client.Client[demo.MsgID]) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Incoming().WaitPopFront(ctx)
	return err
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "Threads", "LargeValueSizeKB", "TCPNoDelay", "WriteBuffer", "ReadBuffer",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			perfEndpoint,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.FormatBool(config.Conn.TCPConf.TCPNoDelay),
			strconv.Itoa(config.Conn.SocketConf.WriteBufferSize),
			strconv.Itoa(config.Conn.SocketConf.ReadBufferSize),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
