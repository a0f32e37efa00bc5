// Command boardctl is a terminal client for the community board. It drives
// the same cache, mutation and push layers an interactive UI would.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"boardsync/internal/bootstrap"
	"boardsync/internal/cache"
	"boardsync/internal/config"
	"boardsync/internal/models"
	"boardsync/internal/observability"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  boardctl [flags] posts [category]          - List posts")
	fmt.Println("  boardctl [flags] show <post_id>            - Show a post and its comments")
	fmt.Println("  boardctl [flags] like <post_id>            - Toggle a like on a post")
	fmt.Println("  boardctl [flags] scrap <post_id>           - Toggle a scrap on a post")
	fmt.Println("  boardctl [flags] comment <post_id> <text>  - Comment on a post")
	fmt.Println("  boardctl [flags] scraps                    - List your scraps")
	fmt.Println("  boardctl [flags] notifications             - List notifications")
	fmt.Println("  boardctl [flags] read <notification_id>    - Mark a notification read")
	fmt.Println("  boardctl [flags] watch                     - Stream notifications until interrupted")
	fmt.Println()
	flag.PrintDefaults()
}

func main() {
	_ = godotenv.Load()

	email := flag.String("email", os.Getenv("BOARD_EMAIL"), "Account email")
	password := flag.String("password", os.Getenv("BOARD_PASSWORD"), "Account password")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	observability.SetLogger(logger)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "boardctl",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   1.0,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	client, err := bootstrap.NewClient(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// every request of this invocation shares one X-Request-ID
	ctx = observability.WithCorrelationID(ctx, uuid.NewString())

	if *email != "" {
		user, err := client.Session.Login(ctx, models.Credentials{Email: *email, Password: *password})
		if err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		fmt.Printf("Signed in as %s\n", user.Nickname)
	}

	if err := run(ctx, client, args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *bootstrap.Client, args []string) error {
	switch args[0] {
	case "posts":
		var filter models.PostFilter
		if len(args) > 1 {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid category %q", args[1])
			}
			filter.CategoryID = id
		}
		res, err := c.Views.Posts(ctx, filter)
		if err != nil {
			return err
		}
		for _, p := range res.Data {
			fmt.Printf("#%-5d %-50s %-12s ♥ %-4d 💬 %d\n", p.ID, p.Title, p.Nickname, p.LikeCount, p.CommentCount)
		}
		return nil

	case "show":
		id, err := argID(args, 1, "post_id")
		if err != nil {
			return err
		}
		post, err := c.Views.Post(ctx, id)
		if err != nil {
			return err
		}
		thread, err := c.Views.Comments(ctx, id)
		if err != nil {
			return err
		}
		p := post.Data
		fmt.Printf("%s\nby %s · ♥ %d%s\n\n%s\n\n", p.Title, p.Nickname, p.LikeCount, marker(p.Liked, " (liked)"), p.Content)
		for i, cm := range thread.Data.Comments {
			prefix := "  "
			if i < thread.Data.BestCount {
				prefix = "★ "
			}
			fmt.Printf("%s%s: %s  ♥ %d\n", prefix, cm.Nickname, cm.Content, cm.LikeCount)
		}
		return nil

	case "like":
		id, err := argID(args, 1, "post_id")
		if err != nil {
			return err
		}
		if err := c.Mutations.ToggleLike(ctx, id); err != nil {
			return err
		}
		p, _ := cache.GetAs[models.Post](c.Store, cache.PostKey(id))
		fmt.Printf("liked=%v likes=%d\n", p.Liked, p.LikeCount)
		return nil

	case "scrap":
		id, err := argID(args, 1, "post_id")
		if err != nil {
			return err
		}
		if err := c.Mutations.ToggleScrap(ctx, id); err != nil {
			return err
		}
		p, _ := cache.GetAs[models.Post](c.Store, cache.PostKey(id))
		fmt.Printf("scrapped=%v\n", p.Scrapped)
		return nil

	case "comment":
		id, err := argID(args, 1, "post_id")
		if err != nil {
			return err
		}
		if len(args) < 3 {
			return fmt.Errorf("comment text is required")
		}
		cm, err := c.Mutations.CreateComment(ctx, id, strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("Comment #%d added\n", cm.ID)
		return nil

	case "scraps":
		res, err := c.Views.MyScraps(ctx)
		if err != nil {
			return err
		}
		for _, s := range res.Data {
			fmt.Printf("#%-5d %-50s %s\n", s.PostID, s.PostTitle, s.AuthorNickname)
		}
		return nil

	case "notifications":
		res, err := c.Views.Notifications(ctx)
		if err != nil {
			return err
		}
		for _, n := range res.Data {
			fmt.Printf("#%-5d %s%s\n", n.ID, n.Message, marker(!n.Read, " •"))
		}
		return nil

	case "read":
		id, err := argID(args, 1, "notification_id")
		if err != nil {
			return err
		}
		return c.Mutations.MarkNotificationRead(ctx, id)

	case "watch":
		return watch(ctx, c)

	default:
		usage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// watch prints each pushed notification until ctx ends or the session does.
func watch(ctx context.Context, c *bootstrap.Client) error {
	if _, ok := c.Session.User(); !ok {
		return fmt.Errorf("watch requires -email and -password")
	}

	ended := make(chan string, 1)
	cancelEnded := c.Session.OnEnded(func(reason string) {
		select {
		case ended <- reason:
		default:
		}
	})
	defer cancelEnded()

	seen := make(map[int64]bool)
	if ns, ok := cache.GetAs[models.Notifications](c.Store, cache.NotificationsKey()); ok {
		for _, n := range ns {
			seen[n.ID] = true
		}
	}

	changed := make(chan struct{}, 1)
	unsubscribe := c.Store.Subscribe(func(key cache.QueryKey) {
		if key.Equal(cache.NotificationsKey()) {
			select {
			case changed <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	fmt.Println("Watching notifications, press Ctrl+C to stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-ended:
			return fmt.Errorf("session ended: %s", reason)
		case t := <-c.Toasts.C():
			fmt.Printf("! %s: %s\n", t.Operation, t.Message)
		case <-changed:
			ns, _ := cache.GetAs[models.Notifications](c.Store, cache.NotificationsKey())
			for i := len(ns) - 1; i >= 0; i-- {
				if !seen[ns[i].ID] {
					seen[ns[i].ID] = true
					fmt.Printf("🔔 %s\n", ns[i].Message)
				}
			}
		}
	}
}

func argID(args []string, i int, name string) (int64, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("%s is required", name)
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, args[i])
	}
	return id, nil
}

func marker(on bool, s string) string {
	if on {
		return s
	}
	return ""
}
