package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	infra "github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/logging"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/uuid"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/network"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/remote"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/progress"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/result"
	"go.uber.org/zap"
)

const usage = `usage: syncctl [flags] <command> [args]

commands:
  fetch <progress|results>
  get <progress|results> <key>
  save progress <moduleId> [field=value...]
  save results <assessmentId> <areaId> [field=value...]
  update <progress|results> <key> field=value...
  start <moduleId> [title]
  complete <moduleId> [title]
  sync
  watch
`

func main() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)
	option, args, err := infra.InitClientConfig()
	if err != nil {
		log.Fatal(err)
	}
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	os.Exit(serve(option, args))
}

// serve runs one command, deferred cleanup happens before the exit code is returned
func serve(option *infra.ClientConfig, args []string) int {

	logger, err := logging.NewLogger(&logging.Config{
		FilePath: option.Logging.FilePath,
		Level:    option.Logging.Level,
		AppID:    "syncctl",
		Env:      option.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %s\n", err)
	}
	defer logger.Sync()

	kv, closeKV, err := openCache(option)
	if err != nil {
		logger.Fatal("Failed to open local cache", zap.String("cache.driver", option.Cache.Driver), zap.Error(err))
	}
	defer closeKV()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := remote.NewClient(option.Remote.BaseURL, option.Remote.Token, option.Remote.Timeout, logger)
	online := true
	if option.Network.Probe != "none" {
		online = client.Ping(ctx) == nil
	}
	if online && client.Token() == "" && option.Remote.Username != "" {
		uid, err := client.Login(ctx, option.Remote.Username, option.Remote.Password)
		switch {
		case err != nil:
			logger.Warn("Failed to sign in", zap.Error(err))
		case uid != option.UserID:
			logger.Warn("Signed in user differs from user_id", zap.String("user.id", uid))
		}
	}

	monitor := network.NewMonitor(kv, online, logger)
	deps := offline.Deps{
		KV:      kv,
		Monitor: monitor,
		IDs:     uuid.NewTempGenerator(uuid.NewNanoIDGenerator(option.Security.IDLength)),
		Logger:  logger,
	}
	progressSync := offline.NewProgressSync(option.UserID, remote.NewService[progress.Record](client, progress.Kind), deps)
	defer progressSync.Close()
	resultSync := offline.NewResultSync(option.UserID, remote.NewService[result.Record](client, result.Kind), deps)
	defer resultSync.Close()

	app := &cli{
		userID:   option.UserID,
		progress: progressSync,
		results:  resultSync,
		monitor:  monitor,
		out:      os.Stdout,
		probe: func(ctx context.Context) {
			startProbe(ctx, option, monitor, client)
		},
	}

	if err := app.run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// openCache returns the key-value substrate of the local cache
func openCache(option *infra.ClientConfig) (driver.KeyValueDB, func(), error) {
	switch option.Cache.Driver {
	case "memory":
		return driver.NewMemoryKV(), func() {}, nil
	case "redis":
		rdb := driver.NewRedisClient(option.KVStore.Host, option.KVStore.Port, option.KVStore.Password)
		return rdb, func() { rdb.Close() }, nil
	default:
		conn, err := driver.NewSQLiteConn(option.Cache.Path)
		if err != nil {
			return nil, nil, err
		}
		kv, err := driver.NewSQLKV(conn)
		if err != nil {
			conn.Close(context.Background())
			return nil, nil, err
		}
		return kv, func() { conn.Close(context.Background()) }, nil
	}
}

// startProbe feeds the monitor until ctx is done
func startProbe(ctx context.Context, option *infra.ClientConfig, monitor *network.Monitor, client *remote.Client) {
	interval := option.Network.ProbeInterval
	switch option.Network.Probe {
	case "poll":
		go monitor.Poll(ctx, client, interval)
	case "presence":
		go monitor.WatchPresence(ctx, client.PresenceURL(), interval, client.AuthHeader())
	}
}
