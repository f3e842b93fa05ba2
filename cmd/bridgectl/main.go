package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voicebridge/bridged/internal/auth"
	"github.com/voicebridge/bridged/internal/config"
	"github.com/voicebridge/bridged/internal/model"
)

func main() {
	cfg := config.DefaultConfig()
	var (
		target  = flag.String("target", "", "action target")
		payload = flag.String("payload", "", "action payload")
		extra   = flag.String("extra", "", "action extra argument")
		timeout = flag.Duration("timeout", 15*time.Second, "response timeout")
	)
	flag.StringVar(&cfg.Host, "host", cfg.Host, "daemon address")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "daemon port")
	flag.StringVar(&cfg.TokenPath, "token-file", cfg.TokenPath, "shared secret file")
	flag.Parse()

	if flag.NArg() != 1 {
		_, _ = fmt.Fprintln(os.Stderr, "usage: bridgectl [flags] <action>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if cfg.Token == "" {
		data, err := os.ReadFile(cfg.TokenPath)
		if err == nil {
			cfg.Token = strings.TrimSpace(string(data))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	url := fmt.Sprintf("ws://%s:%d", cfg.Host, cfg.Port)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		fatal(err)
	}
	defer conn.CloseNow() //nolint:errcheck

	cmd := model.Command{
		Action:    flag.Arg(0),
		Target:    *target,
		Payload:   *payload,
		Extra:     *extra,
		AuthToken: cfg.Token,
		Timestamp: time.Now().Unix(),
		Nonce:     auth.NewNonce(),
		RequestID: uuid.NewString(),
	}
	frame, err := json.Marshal(cmd)
	if err != nil {
		fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		fatal(err)
	}

	// Broadcast frames share the connection; keep reading until the reply
	// carrying our correlation id arrives.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			fatal(err)
		}
		var reply map[string]any
		if err := json.Unmarshal(data, &reply); err != nil {
			continue
		}
		if reply["_reqId"] != cmd.RequestID {
			continue
		}
		delete(reply, "_reqId")
		out, err := json.MarshalIndent(reply, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(out))
		if reply["status"] == string(model.StatusError) {
			os.Exit(1)
		}
		return
	}
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
	os.Exit(1)
}
