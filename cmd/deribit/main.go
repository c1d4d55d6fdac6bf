package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/deribit/deribit/client"
	"github.com/betbot/deribit/deribit/stream"
	"github.com/betbot/deribit/deribit/types"
	"github.com/betbot/deribit/internal/metrics"
	"github.com/betbot/deribit/pkg/config"
	"github.com/betbot/deribit/pkg/logger"
	"github.com/betbot/deribit/pkg/secretstore"
	"github.com/betbot/deribit/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	config.SetConfigPath(*configPath)
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		JSON:       cfg.Log.JSON,
	}); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}
	logrus.WithField("config", config.GetConfigPath()).
		WithField("log_file", logger.GetCurrentLogFile()).
		Info("配置已加载")

	creds, err := resolveCredentials(cfg)
	if err != nil {
		logrus.Fatalf("加载凭证失败: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, creds); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Errorf("运行失败: %v", err)
		os.Exit(1)
	}
	logrus.Info("已退出")
}

// resolveCredentials 环境变量/配置文件缺失时从加密存储补齐
func resolveCredentials(cfg *config.Config) (types.Credentials, error) {
	creds := cfg.ClientCredentials()
	if creds.Validate() == nil || cfg.SecretStore.Path == "" {
		return creds, nil
	}

	key, err := secretstore.ParseKey(cfg.SecretStore.Key)
	if err != nil {
		return creds, err
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.SecretStore.Path, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		return creds, err
	}
	defer ss.Close()

	stored, found, err := ss.Credentials()
	if err != nil {
		return creds, err
	}
	if !found {
		logger.Warnf("加密存储中没有凭证: %s", cfg.SecretStore.Path)
		return creds, nil
	}
	if creds.ClientID == "" {
		creds.ClientID = stored.ClientID
	}
	if creds.ClientSecret == "" {
		creds.ClientSecret = stored.ClientSecret
	}
	logger.Infof("已从加密存储加载凭证: %s", creds)
	return creds, nil
}

func run(ctx context.Context, cfg *config.Config, creds types.Credentials) error {
	log := logger.Component("main")
	sd := shutdown.NewManager()

	if cfg.MetricsListen != "" {
		addr, err := metrics.StartAsync(ctx, cfg.MetricsListen)
		if err != nil {
			return err
		}
		log.WithField("addr", addr.String()).Info("metrics 服务已启动")
	}

	cc, err := client.New(creds, &client.Config{
		Host:             cfg.Exchange.Host,
		Scheme:           cfg.Exchange.Scheme,
		Timeout:          cfg.Timeout(),
		ReuseConnections: cfg.Exchange.ReuseConnections,
		RateLimit:        cfg.RateLimit,
		TokenMargin:      30 * time.Second,
		Logger:           logger.Component("client"),
	})
	if err != nil {
		return err
	}
	log.WithField("host", cc.Host()).Info("命令客户端已创建")
	sd.OnShutdown("client", func(context.Context) error {
		cc.Close()
		return nil
	})

	// 命令通道与推送通道互不影响：认证或查询失败只记录日志
	runCommands(ctx, cfg, cc, log)

	channels := make([]string, 0, len(cfg.Stream.Instruments))
	for _, inst := range cfg.Stream.Instruments {
		channels = append(channels, types.OrderbookChannel(inst, cfg.Stream.Interval))
	}

	streamErr := make(chan error, 1)
	if len(channels) > 0 {
		sessCfg := stream.DefaultConfig()
		sessCfg.OrderbookInterval = cfg.Stream.Interval
		sessCfg.Logger = logger.Component("stream")

		sv := stream.NewSupervisor(cfg.Exchange.Host, cfg.Exchange.WSPort, &stream.SupervisorConfig{
			Session:     sessCfg,
			Channels:    channels,
			MinBackoff:  time.Duration(cfg.Stream.MinBackoffMs) * time.Millisecond,
			MaxBackoff:  time.Duration(cfg.Stream.MaxBackoffMs) * time.Millisecond,
			Factor:      2,
			Jitter:      true,
			MaxAttempts: cfg.Stream.MaxAttempts,
			Logger:      logger.Component("supervisor"),
		})

		streamCtx, stopStream := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			streamErr <- sv.Run(streamCtx, func(frame string) {
				logger.Debugf("frame: %s", frame)
			})
		}()
		sd.OnShutdown("stream", func(ctx context.Context) error {
			stopStream()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	} else {
		log.Warn("没有配置订阅合约，跳过行情推送")
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("收到退出信号")
	case runErr = <-streamErr:
		log.Errorf("行情推送已停止: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sd.Shutdown(shutdownCtx); err != nil {
		log.Warnf("关闭未完成: %v", err)
	}
	return runErr
}

// runCommands 启动时的命令流程：认证、列出合约和持仓、可选的演示下单
func runCommands(ctx context.Context, cfg *config.Config, cc *client.Client, log *logrus.Entry) {
	authenticated := false
	if err := cc.Authenticate(ctx); err != nil {
		log.Errorf("认证失败: %v", err)
	} else {
		authenticated = true
		log.WithField("state", cc.TokenState()).Info("认证完成")
	}

	insts, err := cc.GetInstruments(ctx, cfg.Startup.Currency, cfg.Startup.Kind, false)
	if err != nil {
		log.Errorf("查询合约失败: %v", err)
	} else {
		log.Infof("%s %s 合约 %d 个", cfg.Startup.Currency, cfg.Startup.Kind, len(insts))
		for _, inst := range insts {
			log.WithField("tick_size", inst.TickSize).WithField("active", inst.IsActive).Debug(inst.InstrumentName)
		}
	}

	if authenticated {
		positions, err := cc.GetPositions(ctx, cfg.Startup.Currency, cfg.Startup.Kind)
		if err != nil {
			log.Errorf("查询持仓失败: %v", err)
		}
		for _, p := range positions {
			log.WithField("size", p.Size).WithField("direction", p.Direction).Info("持仓 " + p.InstrumentName)
		}
	}

	demo := cfg.Startup.DemoOrder
	if !demo.Enabled {
		return
	}
	order, err := demo.Order()
	if err != nil {
		log.Errorf("演示订单无效: %v", err)
		return
	}
	if cfg.DryRun {
		log.WithField("instrument", order.Instrument).
			WithField("direction", order.Direction).
			WithField("amount", order.Amount()).
			WithField("price", order.Price.String()).
			Info("[DRY RUN] 跳过下单")
		return
	}
	if !authenticated {
		log.Warn("未认证，跳过演示下单")
		return
	}

	res, err := cc.PlaceOrder(ctx, order)
	if err != nil {
		if rpcErr, ok := types.RPCErrorOf(err); ok {
			log.WithField("code", rpcErr.Code).Errorf("下单被拒绝: %s", rpcErr.Message)
		} else {
			log.Errorf("下单失败: %v", err)
		}
		return
	}
	log.WithField("order_id", res.Order.OrderID).WithField("state", res.Order.OrderState).Info("演示订单已提交")

	if demo.Cancel && res.Order.OrderID != "" {
		if err := cc.CancelOrder(ctx, res.Order.OrderID); err != nil {
			log.Errorf("撤单失败: %v", err)
		}
	}
}
