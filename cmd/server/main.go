package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	infra "github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/logging"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/uuid"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/interfaces/rest"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/progress"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/result"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/user"
	"go.uber.org/zap"
)

func main() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)
	option, err := infra.InitConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		FilePath: option.Logging.FilePath,
		Level:    option.Logging.Level,
		AppID:    option.AppID,
		Env:      option.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %s\n", err)
	}
	defer logger.Sync()

	dbConn, err := driver.GetDBConnection(&driver.DBConfig{
		User:     option.Database.User,
		Password: option.Database.Password,
		MaxConn:  option.Database.MaxConn,
		Protocol: option.Database.Protocol,
		Driver:   option.Database.Driver,
		Host:     option.Database.Host,
		Port:     option.Database.Port,
		Query:    option.Database.Query,
		Schema:   option.Database.Schema,
	})
	if err != nil {
		logger.Fatal("Failed to create DB connection", zap.Error(err))
	}
	defer dbConn.Close(context.Background())
	logger.Debug("Create DB connection instance", zap.String("db.driver", option.Database.Driver),
		zap.String("db.schema", option.Database.Schema),
		zap.String("db.host", option.Database.Host),
	)

	if option.Database.Migrate {
		ctx := logging.SetLoggerInContext(context.Background(), logger)
		if err := driver.Migrate(ctx, dbConn, user.Schema, progress.Schema, result.Schema); err != nil {
			logger.Fatal("Failed to migrate", zap.Error(err))
		}
	}

	var kv driver.KeyValueDB
	switch option.KVStore.Driver {
	case "memory":
		kv = driver.NewMemoryKV()
	default:
		rdb := driver.NewRedisClient(option.KVStore.Host, option.KVStore.Port, option.KVStore.Password)
		defer rdb.Close()
		kv = rdb
	}

	UUIDGenerator := uuid.NewGenerator(option.Security.IDStrategy, option.Security.IDLength)
	UserUseCase := user.NewUserUseCase(
		user.NewUserRepository(dbConn, UUIDGenerator),
		option.Security.MaxLoginAttempts,
		option.Security.RetryTimeout,
	)
	ProgressUseCase := progress.NewProgressUseCase(progress.NewProgressRepository(dbConn, UUIDGenerator))
	ResultUseCase := result.NewResultUseCase(result.NewResultRepository(dbConn, UUIDGenerator))

	app := rest.NewApp(dbConn, kv, option, UserUseCase, ProgressUseCase, ResultUseCase, logger)

	go func() {
		addr := fmt.Sprintf("%s:%d", option.Host, option.Port)
		logger.Info("Start serving", zap.String("server.address", addr))
		if err := app.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown", zap.Error(err))
	}
}
