package serve

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/kqnet/cmd/demo"
	cmdUtil "github.com/ValentinKolb/kqnet/cmd/util"
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"github.com/ValentinKolb/kqnet/rpc/connection"
	"github.com/ValentinKolb/kqnet/rpc/serializer"
	"github.com/ValentinKolb/kqnet/rpc/server"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	Logger = logger.GetLogger(common.LoggerCmd)

	serveCmdConfig = common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the kqnet demo server",
		Long:    `Start the kqnet demo server. It answers RequestAccept with ServerAccept and relays MessageRequest payloads to all other clients. The configuration can be set via command line flags or environment variables. The format of the environment variables is KQNET_<flag> (e.g. KQNET_ENDPOINT=0.0.0.0:60000)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupConnFlags(ServeCmd)

	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:60000", cmdUtil.WrapString("The address on which the server will listen"))

	key = "first-id"
	ServeCmd.PersistentFlags().Uint32(key, common.DefaultFirstConnectionID, cmdUtil.WrapString("Id assigned to the first accepted connection"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the Prometheus /metrics endpoint (e.g. :9100, empty disables it)"))

	key = "stats-interval"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Log server statistics every n seconds (0 disables it)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig = common.DefaultServerConfig(viper.GetString("endpoint"))
	serveCmdConfig.FirstConnectionID = viper.GetUint32("first-id")
	serveCmdConfig.Conn = cmdUtil.GetConnConfig()
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	return cmdUtil.InitLogging()
}

// run starts the demo server and handles messages until interrupted
func run(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := serializer.ByName(viper.GetString("serializer"))
	if err != nil {
		return err
	}

	h := &handler{codec: codec}
	h.srv = server.New[demo.MsgID](demo.Scramble, serveCmdConfig, h)
	if err := h.srv.Start(); err != nil {
		return err
	}
	defer h.srv.Stop()

	Logger.Infof("%s", serveCmdConfig.String())

	if endpoint := viper.GetString("metrics-endpoint"); endpoint != "" {
		go serveMetrics(ctx, endpoint)
	}
	if interval := viper.GetInt("stats-interval"); interval > 0 {
		go logStats(ctx, h.srv, time.Duration(interval)*time.Second)
	}

	for {
		if _, err := h.srv.UpdateWait(ctx, server.Unbounded); err != nil {
			if errors.Is(err, context.Canceled) {
				Logger.Infof("Shutting down")
				return nil
			}
			return err
		}
	}
}

// --------------------------------------------------------------------------
// Demo handler
// --------------------------------------------------------------------------

type handler struct {
	server.BaseHandler[demo.MsgID]
	srv   *server.Server[demo.MsgID]
	codec serializer.IPayloadSerializer
}

func (h *handler) OnClientDisconnect(c *connection.Connection[demo.MsgID]) {
	Logger.Infof("Successfully disconnected %d %s", c.ID(), c.RemoteAddr())
}

func (h *handler) OnClientValidated(c *connection.Connection[demo.MsgID]) {
	Logger.Infof("Client %d validated", c.ID())
}

func (h *handler) OnClientUnvalidated(c *connection.Connection[demo.MsgID]) {
	Logger.Warningf("%s UNVALIDATED", c.RemoteAddr())
}

func (h *handler) OnMessage(c *connection.Connection[demo.MsgID], msg *message.Message[demo.MsgID]) {
	Logger.Debugf("Responding to client %d, msg id: %s, msg size: %d", c.ID(), msg.ID(), msg.Size())

	switch msg.ID() {
	case demo.RequestAccept:
		if err := h.srv.MessageClient(c, message.New(demo.ServerAccept)); err != nil {
			Logger.Warningf("Failed to answer client %d: %v", c.ID(), err)
		}
	case demo.MessageRequest:
		text, err := message.ExtractString(msg)
		if err != nil {
			Logger.Warningf("Invalid MessageRequest from %d: %v", c.ID(), err)
			_ = h.srv.MessageClient(c, message.New(demo.ServerReject))
			return
		}
		relay, err := demo.NewRelay(h.codec, demo.Relay{Text: text, Sender: c.ID()})
		if err != nil {
			Logger.Warningf("Failed to build relay: %v", err)
			return
		}
		if err := h.srv.Broadcast(relay, c); err != nil {
			Logger.Warningf("Broadcast failed: %v", err)
		}
	default:
		Logger.Debugf("Ignoring message %s from %d", msg.ID(), c.ID())
	}
}

// --------------------------------------------------------------------------
// Observability
// --------------------------------------------------------------------------

// serveMetrics exposes the Prometheus metrics until ctx is done
func serveMetrics(ctx context.Context, endpoint string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		common.WriteMetrics(w, true)
	})
	srv := &http.Server{Addr: endpoint, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	Logger.Infof("Serving metrics on %s/metrics", endpoint)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Logger.Errorf("Metrics endpoint failed: %v", err)
	}
}

func logStats(ctx context.Context, srv *server.Server[demo.MsgID], interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Logger.Infof("stats: %s", srv.Stats())
		}
	}
}
