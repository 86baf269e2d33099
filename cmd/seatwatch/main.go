// Command seatwatch is a terminal seat picker for one showtime. It follows
// the seat map over the realtime feed, falling back to polling, and reserves
// the local selection through the seats API.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/showtime-seats/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/showtime-seats/internal/adapters/redis"
	"github.com/robertarktes/showtime-seats/internal/auth"
	"github.com/robertarktes/showtime-seats/internal/client"
	"github.com/robertarktes/showtime-seats/internal/config"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
	"github.com/robertarktes/showtime-seats/internal/seatcore"
)

func main() {
	showtimeFlag := flag.String("showtime", "", "showtime id")
	userFlag := flag.String("user", "", "sign in as this user id")
	clientID := flag.String("client-id", "", "key for the persisted selection (default: random)")
	token := flag.String("token", "", "bearer token for the seats API")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLogger()

	showtimeID, err := uuid.Parse(*showtimeFlag)
	if err != nil {
		log.Fatalf("invalid -showtime: %v", err)
	}
	if *clientID == "" {
		*clientID = uuid.NewString()
	}

	var userID uuid.UUID
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			log.Fatalf("invalid -user: %v", err)
		}
		if *token == "" && cfg.JWTSecret != "" {
			if *token, err = auth.NewAccessToken(cfg.JWTSecret, userID, "", 12*time.Hour); err != nil {
				log.Fatalf("failed to sign token: %v", err)
			}
		}
	}

	api := client.New(cfg.APIBaseURL, client.WithToken(*token))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	showtime, err := api.FetchShowtime(ctx, showtimeID)
	if err != nil {
		log.Fatalf("failed to load showtime: %v", err)
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	var feed seatcore.Feed
	switch cfg.RealtimeTransport {
	case config.TransportRedis:
		feed = redisadapter.NewFeed(redisClient, logger)
	default:
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		feed = rabbit.NewSubscriber(conn, logger)
	}

	coordinator := seatcore.NewReservationCoordinator(api, api, seatcore.CoordinatorOptions{
		PricePerSeat: showtime.PricePerSeat,
		Logger:       logger,
	})
	session := seatcore.NewSession(showtimeID, api, feed, seatcore.SessionOptions{
		Layout:       showtime.Layout,
		Storage:      redisadapter.NewLedgerStorage(redisClient, *clientID),
		Coordinator:  coordinator,
		JoinTimeout:  cfg.RealtimeJoinTimeout,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})

	if err := session.Open(ctx); err != nil {
		log.Fatalf("failed to open session: %v", err)
	}
	defer session.Close()

	if userID != uuid.Nil {
		if err := session.Authenticate(ctx, userID); err != nil {
			logger.WithError(err).Warn("authenticate")
		}
	}

	w := &watcher{session: session, api: api, layout: showtime.Layout, userID: userID}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-session.Changes():
				w.show()
			}
		}
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	w.show()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := w.exec(ctx, line); quit {
				return
			}
		}
	}
}

type watcher struct {
	session *seatcore.Session
	api     *client.Client
	layout  domain.Layout
	userID  uuid.UUID
}

func (w *watcher) show() {
	fmt.Printf("\n%s [%s]\n", w.session.ShowtimeID(), w.session.Mode())
	renderGrid(os.Stdout, w.layout, w.session.Grid())
	if sel := w.session.Selected(); len(sel) > 0 {
		fmt.Printf("selected: %v\n", sel)
	}
}

func (w *watcher) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "q":
		return true
	case "show":
		w.show()
	case "click":
		if len(fields) != 2 {
			fmt.Println("usage: click <seat>")
			return false
		}
		st, err := w.session.OnSeatClick(ctx, domain.SeatID(strings.ToUpper(fields[1])))
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		fmt.Printf("%s is %s\n", fields[1], st)
	case "login":
		if len(fields) != 2 {
			fmt.Println("usage: login <user-id>")
			return false
		}
		id, err := uuid.Parse(fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		if err := w.session.Authenticate(ctx, id); err != nil {
			fmt.Println("error:", err)
			return false
		}
		w.userID = id
	case "reserve":
		set, err := w.session.Proceed(ctx)
		if err != nil {
			var rerr *seatcore.ReservationError
			switch {
			case errors.As(err, &rerr) && len(rerr.Conflicts) > 0:
				fmt.Printf("seats taken: %v\n", rerr.Conflicts)
			case errors.Is(err, domain.ErrNotAuthenticated):
				fmt.Println("login first")
			default:
				fmt.Println("error:", err)
			}
			return false
		}
		fmt.Printf("held %d seats, total %.2f, pay before %s\n",
			len(set.Seats), set.Checkout.TotalPrice, set.Checkout.ExpiresAt.Format(time.Kitchen))
	case "history":
		if w.userID == uuid.Nil {
			fmt.Println("login first")
			return false
		}
		bookings, err := w.api.History(ctx, w.userID)
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		for _, b := range bookings {
			ids := make([]string, 0, len(b.Items))
			for _, it := range b.Items {
				ids = append(ids, string(it.SeatID))
			}
			fmt.Printf("%s %s %s %.2f %s\n", b.CreatedAt.Format(time.DateTime), b.ID, b.Status, b.TotalPrice, strings.Join(ids, ","))
		}
	default:
		fmt.Println("commands: show, click <seat>, login <user-id>, reserve, history, quit")
	}
	return false
}
