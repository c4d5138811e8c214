package util

import (
	"fmt"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net"
	"strconv"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupConnFlags adds the connection flags shared by all commands
func SetupConnFlags(cmd *cobra.Command) {
	key := "handshake-timeout"
	cmd.PersistentFlags().Int64(key, common.DefaultHandshakeTimeoutSecond, WrapString("Seconds a peer may take to complete the validation handshake (0 disables the deadline)"))

	key = "max-payload"
	cmd.PersistentFlags().Uint32(key, common.DefaultMaxPayloadBytes/1024, WrapString("Largest accepted message payload in KB (0 disables the limit)"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB, 0 keeps the OS default)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB, 0 keeps the OS default)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, 0 disables keepalive)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time (in seconds, -1 keeps the OS default)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig loads .env files and initializes viper for KQNET_ environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("kqnet")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags (including inherited ones) to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}

// GetConnConfig reads the connection configuration from viper
func GetConnConfig() common.ConnConfig {
	return common.ConnConfig{
		HandshakeTimeoutSecond: viper.GetInt64("handshake-timeout"),
		MaxPayloadBytes:        viper.GetUint32("max-payload") * 1024,
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
		},
	}
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	conf := common.DefaultClientConfig()
	conf.Conn = GetConnConfig()
	conf.LogLevel = viper.GetString("log-level")
	if timeout := viper.GetInt64("dial-timeout"); timeout > 0 {
		conf.DialTimeoutSecond = timeout
	}
	return conf
}

// InitLogging applies the configured log level
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// SplitEndpoint splits host:port into host and port
func SplitEndpoint(endpoint string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("invalid endpoint %s: %w", endpoint, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %s: %w", portStr, err)
	}
	if host == "" {
		host = "localhost"
	}
	return host, uint16(port), nil
}
