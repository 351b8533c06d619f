package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redissub"
)

var (
	doCmd = &cobra.Command{
		Use:   "do [command] [args...]",
		Short: "Sends single command and prints reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			s, err := open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			res := s.Do(ctx, args[0], strArgs(args[1:])...)
			fmt.Fprintln(cmd.OutOrStdout(), format(res))
			return redis.AsError(res)
		},
	}
	mgetCmd = &cobra.Command{
		Use:   "mget [keys...]",
		Short: "Fetches values of keys, from all shards if several endpoints are given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			s, err := open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			res := s.Do(ctx, "MGET", strArgs(args)...)
			if err := redis.AsError(res); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for i, v := range res.([]interface{}) {
				fmt.Fprintf(w, "%s\t%s\n", args[i], format(v))
			}
			return w.Flush()
		},
	}
	publishCmd = &cobra.Command{
		Use:   "publish [channel] [message]",
		Short: "Publishes message to channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			s, err := open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			res := s.channelHandler(args[0]).Publish(ctx, args[0], args[1])
			fmt.Fprintln(cmd.OutOrStdout(), format(res))
			return redis.AsError(res)
		},
	}
	subscribeCmd = &cobra.Command{
		Use:   "subscribe [channels...]",
		Short: "Subscribes to channels (or patterns with --pattern) and prints messages until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSubscribe,
	}
	statsCmd = &cobra.Command{
		Use:   "stats [command] [args...]",
		Short: "Sends command many times concurrently and prints latency and pool metrics",
		RunE:  runStats,
	}
)

func init() {
	subscribeCmd.Flags().Bool("pattern", false, "Arguments are patterns")
	subscribeCmd.Flags().Int("count", 0, "Exit after this number of messages, 0 means never")

	statsCmd.Flags().Int("repeat", 1000, "Number of requests")
	statsCmd.Flags().Int("parallel", 8, "Number of concurrent senders")
	statsCmd.Flags().Bool("prometheus", false, "Print pool metrics in Prometheus text format")
}

func strArgs(args []string) []interface{} {
	res := make([]interface{}, len(args))
	for i, a := range args {
		// bytes are accepted by both text and raw encodings
		res[i] = []byte(a)
	}
	return res
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	pattern, _ := cmd.Flags().GetBool("pattern")
	count, _ := cmd.Flags().GetInt("count")
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	msgs := make(chan redissub.Message, 1024)
	handler := func(m redissub.Message) {
		select {
		case msgs <- m:
		default:
		}
	}
	opts := conf.SubscriberOpts()
	opts.Logger = subLogger()

	// patterns may match channels of every node
	groups := channelNodes(conf, args)
	if pattern {
		groups = make(map[string][]string)
		for _, e := range conf.Endpoints {
			groups[e] = args
		}
	}
	nodes := make([]string, 0, len(groups))
	for node := range groups {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	var subs []*redissub.Subscriber
	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()
	for _, node := range nodes {
		sub, err := redissub.Connect(ctx, node, opts, handler)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		var acks []redissub.Ack
		if pattern {
			acks, err = sub.PSubscribe(ctx, groups[node]...)
		} else {
			acks, err = sub.Subscribe(ctx, groups[node]...)
		}
		if err != nil {
			return err
		}
		for _, ack := range acks {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s (%d) at %s\n", ack.Action, ack.Channel, ack.Count, node)
		}
	}

	out := cmd.OutOrStdout()
	for n := 0; count == 0 || n < count; n++ {
		select {
		case <-ctx.Done():
			return nil
		case m := <-msgs:
			if m.Kind == redissub.KindPMessage {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", m.Kind, m.Pattern, m.Channel, format(m.Payload))
			} else {
				fmt.Fprintf(out, "%s\t%s\t%s\n", m.Kind, m.Channel, format(m.Payload))
			}
		}
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	repeat, _ := cmd.Flags().GetInt("repeat")
	parallel, _ := cmd.Flags().GetInt("parallel")
	prom, _ := cmd.Flags().GetBool("prometheus")
	if parallel <= 0 {
		parallel = 1
	}
	if len(args) == 0 {
		// keyed, so it is routable by sharded client as well
		args = []string{"GET", "redispool:stats"}
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   int
		jobs   = make(chan struct{}, repeat)
		start  = time.Now()
		params = strArgs(args[1:])
	)
	for i := 0; i < repeat; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if redis.AsError(s.Do(ctx, args[0], params...)) != nil {
					mu.Lock()
					errs++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d requests in %s (%.0f req/s), %d errors\n\n",
		repeat, elapsed.Round(time.Millisecond), float64(repeat)/elapsed.Seconds(), errs)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMMAND\tCOUNT\tERRORS\tMEAN\tP99\tMAX")
	for _, st := range s.stats.Snapshot() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n", st.Cmd, st.Count, st.Errors, st.Mean, st.P99, st.Max)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if prom {
		fmt.Fprintln(out)
		s.WritePrometheus(out)
	}
	return nil
}
