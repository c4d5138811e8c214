package connect

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/kqnet/cmd/demo"
	cmdUtil "github.com/ValentinKolb/kqnet/cmd/util"
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/rpc/client"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"github.com/ValentinKolb/kqnet/rpc/serializer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	// ConnectCmd connects the demo client to a demo server
	ConnectCmd = &cobra.Command{
		Use:     "connect",
		Short:   "Connect the kqnet demo client to a server",
		Long:    `Connect to a kqnet demo server, wait for validation and send RequestAccept. Received messages are printed until interrupted or --count messages arrived. The format of the environment variables is KQNET_<flag> (e.g. KQNET_ENDPOINT=localhost:60000)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupConnFlags(ConnectCmd)

	key := "endpoint"
	ConnectCmd.PersistentFlags().String(key, "localhost:60000", cmdUtil.WrapString("The address of the kqnet server"))

	key = "dial-timeout"
	ConnectCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for resolving and connecting"))

	key = "validate-timeout"
	ConnectCmd.PersistentFlags().Int64(key, 10, cmdUtil.WrapString("Timeout in seconds for the validation handshake"))

	key = "count"
	ConnectCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Exit after this many received messages (0 waits until interrupted)"))

	key = "say"
	ConnectCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Text sent as MessageRequest after the server accepted the client, it is relayed to all other clients"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	return cmdUtil.InitLogging()
}

// run connects, waits for validation and prints received messages
func run(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, port, err := cmdUtil.SplitEndpoint(viper.GetString("endpoint"))
	if err != nil {
		return err
	}

	codec, err := serializer.ByName(viper.GetString("serializer"))
	if err != nil {
		return err
	}

	c := client.New[demo.MsgID](demo.Scramble, cmdUtil.GetClientConfig())
	if err := c.Connect(ctx, host, port); err != nil {
		return err
	}
	defer c.Disconnect()

	validateCtx, cancel := context.WithTimeout(ctx, time.Duration(viper.GetInt64("validate-timeout"))*time.Second)
	err = c.WaitValidated(validateCtx)
	cancel()
	if err != nil {
		if errors.Is(err, common.ErrNotConnected) {
			return fmt.Errorf("server closed the connection during validation (is the scramble function the same?)")
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Printf("Validated by %s:%d\n", host, port)

	if err := c.Send(message.New(demo.RequestAccept)); err != nil {
		return err
	}

	count := viper.GetInt("count")
	say := viper.GetString("say")

	// stop waiting for messages once the server went away
	done := c.Done()
	recvCtx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()
	go func() {
		select {
		case <-done:
			cancelRecv()
		case <-recvCtx.Done():
		}
	}()

	for received := 0; count == 0 || received < count; received++ {
		owned, err := c.Incoming().WaitPopFront(recvCtx)
		if err != nil {
			if ctx.Err() == nil {
				fmt.Println("Connection closed by server")
			}
			return nil
		}
		msg := owned.Msg

		switch msg.ID() {
		case demo.ServerAccept:
			fmt.Println("Server accepted me!")
			if say != "" {
				m := message.New(demo.MessageRequest)
				if err := message.AppendString(m, say); err != nil {
					return err
				}
				if err := c.Send(m); err != nil {
					return err
				}
			}
		case demo.ServerReject:
			fmt.Println("Server rejected a request")
		case demo.MessageSent:
			relay, err := demo.ParseRelay(codec, msg)
			if err != nil {
				fmt.Printf("Malformed relay: %v\n", err)
				continue
			}
			fmt.Printf("[%d] %s\n", relay.Sender, relay.Text)
		default:
			fmt.Printf("Received %s (%d bytes)\n", msg.ID(), msg.Size())
		}
	}
	return nil
}
