// 演示配置热更新：修改 stripe.yaml 后，下一次请求使用新的 api_base/proxy。
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lgc202/stripe-go-kit/config"
	"github.com/lgc202/stripe-go-kit/httpx"
	"github.com/lgc202/stripe-go-kit/resource"
	"github.com/lgc202/stripe-go-kit/telemetry"
)

func main() {
	store, err := config.LoadSettings("./stripe.yaml")
	if err != nil {
		log.Fatal(err)
	}

	store.OnChange(func(old, new config.Settings) {
		if old.Proxy != new.Proxy {
			log.Printf("[Settings] proxy 变更: %q -> %q", old.Proxy, new.Proxy)
		}
		if old.APIBase != new.APIBase {
			log.Printf("[Settings] api_base 变更: %s -> %s", old.APIBase, new.APIBase)
		}
	})

	client, err := httpx.New(store,
		httpx.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))),
		httpx.WithWarningHandler(func(w httpx.Warning) {
			log.Printf("[Warning] %s", w.Message)
		}),
	)
	if err != nil {
		log.Fatal(err)
	}
	balances := resource.NewBalanceClient(client)

	fmt.Printf("当前配置: %+v\n", store.Get().Redacted())
	fmt.Println("\n修改 stripe.yaml 将在下一次请求生效，Ctrl+C 退出")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = telemetry.WithKey(ctx, telemetry.NewKey())

	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()
	for {
		bal, err := balances.Retrieve(ctx)
		if err != nil {
			log.Printf("查询余额失败: %v", err)
		} else {
			for _, m := range bal.Available {
				fmt.Printf("可用余额: %d %s\n", m.Amount, m.Currency)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
