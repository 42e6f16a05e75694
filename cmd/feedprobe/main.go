package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"price-dashboard/config"
	"price-dashboard/infrastructure/logger"
	"price-dashboard/internal/feed"
	"price-dashboard/market"
	"price-dashboard/view"
)

// feedprobe 连接行情端点并把每次快照按展示顺序打印到终端。
func main() {
	cfgPath := flag.String("config", "", "配置文件路径，留空使用默认配置")
	filterFlag := flag.String("filter", "all", "筛选项：all 或 fitness")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	filter, err := market.ParseFilter(*filterFlag)
	if err != nil {
		log.Fatalf("筛选项无效: %v", err)
	}
	cfg.Log.Outputs = []string{"stderr"}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("创建日志失败: %v", err)
	}
	defer lg.Close()

	client := feed.NewDefault(feed.Config{
		APIURL:           cfg.Feed.APIURL,
		WSURL:            cfg.Feed.WSURL,
		InitialDelay:     cfg.Feed.InitialDelay(),
		ReconnectDelay:   cfg.Feed.ReconnectDelay(),
		FetchTimeout:     cfg.Feed.FetchTimeout(),
		HandshakeTimeout: cfg.Feed.HandshakeTimeout(),
		ReadTimeout:      cfg.Feed.ReadTimeout(),
		PingInterval:     cfg.Feed.PingInterval(),
	}, lg)
	fatal := make(chan error, 1)
	client.SetFatalErrorHandler(func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})
	updates := client.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	onState := func(s market.ConnectionState) {
		fmt.Fprintf(os.Stderr, "[conn] %s\n", s)
	}
	if err := client.Start(ctx, nil, onState); err != nil {
		var ferr *feed.FetchError
		if !errors.As(err, &ferr) {
			log.Fatalf("启动失败: %v", err)
		}
		fmt.Fprintf(os.Stderr, "initial fetch failed: %v\n", err)
	}
	defer client.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			return
		case err := <-fatal:
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			printSnapshot(snap, filter)
		}
	}
}

func printSnapshot(snap market.Snapshot, filter market.Filter) {
	fmt.Printf("\n#%d source=%s records=%d\n", snap.Seq, snap.Source, snap.Len())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tPRICE\tUNIT\tCHANGE\tTYPE\tTIME")
	for _, card := range view.Cards(snap.Records, filter) {
		arrow := "▲"
		if !card.Up {
			arrow = "▼"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s%%\t%s\t%s\n", card.Symbol, card.Price, card.Unit, arrow, card.Change, card.Type, card.Time)
	}
	_ = w.Flush()
}
