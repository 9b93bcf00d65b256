// Copyright © 2024 SealMsg. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sealmsg/group-server/internal/group"
	"github.com/sealmsg/group-server/internal/keyepoch"
	"github.com/sealmsg/group-server/pkg/accountclient"
	"github.com/sealmsg/group-server/pkg/common/config"
	"github.com/sealmsg/group-server/pkg/common/constant"
	"github.com/sealmsg/group-server/pkg/common/storage/cache"
	redisCache "github.com/sealmsg/group-server/pkg/common/storage/cache/redis"
	"github.com/sealmsg/group-server/pkg/common/storage/controller"
	"github.com/sealmsg/group-server/pkg/common/storage/database/mgo"
	"github.com/sealmsg/group-server/pkg/mqbus"
	"github.com/sealmsg/group-server/pkg/ratelimit"

	"github.com/openimsdk/tools/db/mongoutil"
	"github.com/openimsdk/tools/db/redisutil"
	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/log"
	"github.com/robfig/cron/v3"
)

const (
	envPrefix  = "GROUPENV"
	moduleName = "group-server"
	version    = "1.0.0"
)

// Start loads the configuration at configPath, wires the full dependency
// graph and serves HTTP until ctx is cancelled or a SIGTERM arrives.
func Start(ctx context.Context, configPath string) error {
	var cfg config.GroupServer
	if err := config.LoadConfig(configPath, envPrefix, &cfg); err != nil {
		return err
	}
	cfg.ApplyDefaults()

	if err := log.InitLoggerFromConfig(
		"sealmsg", moduleName, "", "",
		cfg.Log.RemainLogLevel, cfg.Log.IsStdout, cfg.Log.IsJson,
		cfg.Log.StorageLocation, cfg.Log.RemainRotationCount, cfg.Log.RotationTime,
		version, false,
	); err != nil {
		return err
	}
	log.ZInfo(ctx, "group server initializing", "configPath", configPath, "ports", cfg.API.Ports)

	mgocli, err := mongoutil.NewMongoDB(ctx, cfg.Mongo.Build())
	if err != nil {
		return err
	}
	rdb, err := redisutil.NewRedisClient(ctx, cfg.Redis.Build())
	if err != nil {
		return err
	}

	groupDB, err := mgo.NewGroupMongo(mgocli.GetDB())
	if err != nil {
		return err
	}
	memberDB, err := mgo.NewGroupMemberMongo(mgocli.GetDB())
	if err != nil {
		return err
	}
	pendingDB, err := mgo.NewPendingMemberMongo(mgocli.GetDB())
	if err != nil {
		return err
	}
	sysMsgDB, err := mgo.NewGroupSysMsgMongo(mgocli.GetDB())
	if err != nil {
		return err
	}
	keyDB, err := mgo.NewKeyVersionMongo(mgocli.GetDB())
	if err != nil {
		return err
	}

	groupCache := redisCache.NewGroupCacheRedis(rdb, groupDB, memberDB)
	qrPending := redisCache.NewQrCodePending(rdb)
	online := redisCache.NewDeviceOnline(rdb)
	bundleCache := cache.NewKeyBundleCache(constant.KeyBundleCacheTTL)

	groupDatabase := controller.NewGroupDatabase(groupDB, memberDB, pendingDB, sysMsgDB, qrPending, groupCache, mgocli.GetTx())
	keyDatabase := controller.NewKeyDatabase(keyDB)

	bus := mqbus.NewRedisBus(rdb)
	limiters := ratelimit.NewRegistry(rdb, &cfg.RateLimit)
	if err := config.WatchConfig(configPath, envPrefix, func(rl *config.RateLimit) {
		limiters.Apply(ctx, rl)
	}); err != nil {
		log.ZWarn(ctx, "config watch unavailable, rate limits are static", err, "path", configPath)
	}

	accounts := accountclient.New(cfg.Share.AccountURL)
	selector := keyepoch.NewCandidateSelector(groupDatabase, online)
	coordinator := keyepoch.NewCoordinator(groupDatabase, keyDatabase, bundleCache, accounts, selector, bus, limiters.GroupKeysUpdate, nil, cfg.KeyEpoch)
	groupServer := group.NewServer(groupDatabase, keyDatabase, coordinator, bus, limiters, accounts, cfg.Share)

	router := NewRouter(groupServer, coordinator, &cfg.API)

	if cfg.KeyEpoch.KeepWindow > 0 || cfg.KeyEpoch.SysMsgRetentionDays > 0 {
		crontab := cron.New()
		if _, err := crontab.AddFunc(cfg.KeyEpoch.GCCronSpec, func() {
			if cfg.KeyEpoch.KeepWindow > 0 {
				if err := keyDatabase.GC(ctx, cfg.KeyEpoch.KeepWindow); err != nil {
					log.ZWarn(ctx, "key version gc failed", err, "keepWindow", cfg.KeyEpoch.KeepWindow)
				}
			}
			if days := cfg.KeyEpoch.SysMsgRetentionDays; days > 0 {
				before := time.Now().AddDate(0, 0, -days)
				if err := groupDatabase.PruneSysMsgs(ctx, before); err != nil {
					log.ZWarn(ctx, "sys msg prune failed", err, "before", before)
				}
			}
		}); err != nil {
			return errs.WrapMsg(err, "bad gc cron spec", "spec", cfg.KeyEpoch.GCCronSpec)
		}
		crontab.Start()
		defer crontab.Stop()
	}

	go announcePresence(ctx, bus, cfg.ServerAddress())

	if len(cfg.API.Ports) == 0 {
		return errs.New("no api ports configured").Wrap()
	}
	addr := net.JoinHostPort(cfg.API.ListenIP, fmt.Sprintf("%d", cfg.API.Ports[0]))
	srv := &http.Server{Addr: addr, Handler: router}

	netDone := make(chan error, 1)
	go func() {
		log.ZInfo(ctx, "group server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			netDone <- errs.WrapMsg(err, "listen failed", "addr", addr)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-ctx.Done():
	case sig := <-sigs:
		log.ZInfo(ctx, "shutdown signal received", "signal", sig.String())
	case err := <-netDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// announcePresence beats on the presence channel so peers and gateways can
// see this instance. The beat interval stays well inside the online expiry.
func announcePresence(ctx context.Context, bus mqbus.Bus, addr string) {
	ticker := time.NewTicker(constant.OnlineExpire / 3)
	defer ticker.Stop()
	for {
		if _, err := bus.AnnouncePresence(ctx, addr); err != nil {
			log.ZWarn(ctx, "presence announce failed", err, "addr", addr)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
