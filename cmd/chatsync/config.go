package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type options struct {
	URL            string        `mapstructure:"url"`
	Token          string        `mapstructure:"token"`
	User           string        `mapstructure:"user"`
	Room           string        `mapstructure:"room"`
	Open           string        `mapstructure:"open"`
	Send           string        `mapstructure:"send"`
	Config         string        `mapstructure:"config"`
	Debug          bool          `mapstructure:"debug"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	CreateTimeout  time.Duration `mapstructure:"create-timeout"`
}

// loadOptions merges flags, CHATSYNC_* environment variables and an optional
// config file, in that order of precedence.
func loadOptions(logger *slog.Logger, args []string) (*options, error) {
	fs := pflag.NewFlagSet("chatsync", pflag.ContinueOnError)
	fs.String("url", "", "gateway websocket URL")
	fs.String("token", "", "access token")
	fs.String("user", "", "signed-in user id")
	fs.String("room", "", "conversation to open on connect")
	fs.String("open", "", "create a conversation with this user")
	fs.String("send", "", "message to send to the active room")
	fs.String("config", "", "config file (yaml)")
	fs.Bool("debug", false, "debug logging")
	fs.Duration("connect-timeout", 10*time.Second, "connect timeout")
	fs.Duration("create-timeout", 10*time.Second, "conversation create timeout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		logger.Debug("config file loaded", "path", v.ConfigFileUsed())
	}

	var opts options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, err
	}
	return &opts, nil
}
