package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	eventbus "github.com/moshangguang/pubsub-bus"
)

const OrderCreated eventbus.EventType = "OrderCreated"

type OrderCreatedData struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

func main() {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:   "eventbus-demo",
		Short: "Publish and consume OrderCreated events on the local or a broker backed bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := rootCmd.Flags()
	flags.String("driver", "", "backend: local, kafka or redis (default local when no brokers are set)")
	flags.StringSlice("brokers", nil, "broker addresses, e.g. localhost:9092")
	flags.String("topic-prefix", "", "prefix prepended to every event type")
	flags.String("group-id", eventbus.DefaultGroupID, "consumer group")
	flags.Bool("from-beginning", true, "a new consumer group starts at the oldest message instead of the newest")
	flags.Int("count", 3, "number of events to publish")
	flags.Duration("wait", 5*time.Second, "how long to keep consuming after publishing")
	flags.Bool("verbose", false, "debug logging")

	_ = v.BindPFlag("eventbus.driver", flags.Lookup("driver"))
	_ = v.BindPFlag("eventbus.brokers", flags.Lookup("brokers"))
	_ = v.BindPFlag("eventbus.topic_prefix", flags.Lookup("topic-prefix"))
	_ = v.BindPFlag("eventbus.group_id", flags.Lookup("group-id"))
	_ = v.BindPFlag("eventbus.start_earliest", flags.Lookup("from-beginning"))
	_ = v.BindPFlag("count", flags.Lookup("count"))
	_ = v.BindPFlag("wait", flags.Lookup("wait"))
	_ = v.BindPFlag("verbose", flags.Lookup("verbose"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, v *viper.Viper) error {
	if v.GetBool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}
	cfg := eventbus.LoadConfig(v)
	bus, err := eventbus.NewEventBus(cfg, eventbus.WithErrHandlerOption(func(fault eventbus.Fault) {
		logrus.WithError(fault).Warn("event bus fault")
	}))
	if err != nil {
		return err
	}
	manager := eventbus.Init(bus)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), eventbus.DisconnectTimeout)
		defer cancel()
		if err := bus.Disconnect(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("disconnect")
		}
	}()

	if err := bus.Connect(ctx); err != nil {
		return err
	}
	sub, err := manager.Subscribe(OrderCreated, eventbus.HandlerFunc(handleOrderCreated))
	if err != nil {
		return err
	}
	defer sub.Cancel()

	ctx = eventbus.WithEventBus(ctx)
	for i := 0; i < v.GetInt("count"); i++ {
		event := eventbus.NewMessage(OrderCreated, OrderCreatedData{
			OrderID: fmt.Sprintf("order-%d", i+1),
			Amount:  float64(10 * (i + 1)),
		})
		if err := eventbus.Emit(ctx, event); err != nil {
			return err
		}
	}

	if local, ok := bus.(*eventbus.LocalEventBus); ok {
		drainCtx, cancel := context.WithTimeout(ctx, v.GetDuration("wait"))
		defer cancel()
		return local.Drain(drainCtx)
	}
	select {
	case <-ctx.Done():
	case <-time.After(v.GetDuration("wait")):
	}
	return nil
}

func handleOrderCreated(ctx context.Context, event eventbus.Event) error {
	var data OrderCreatedData
	switch e := event.(type) {
	case eventbus.RemoteEvent:
		if err := e.Decode(&data); err != nil {
			return err
		}
	case eventbus.Message:
		d, ok := e.Data.(OrderCreatedData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		data = d
	default:
		return fmt.Errorf("unexpected event %T", event)
	}
	logrus.WithFields(logrus.Fields{
		"order_id": data.OrderID,
		"amount":   data.Amount,
	}).Info("order created")
	return nil
}
