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

package config

import (
	"fmt"

	"github.com/openimsdk/tools/db/mongoutil"
	"github.com/openimsdk/tools/db/redisutil"
)

type Mongo struct {
	URI         string   `mapstructure:"uri"`
	Address     []string `mapstructure:"address"`
	Database    string   `mapstructure:"database"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	AuthSource  string   `mapstructure:"authSource"`
	MaxPoolSize int      `mapstructure:"maxPoolSize"`
	MaxRetry    int      `mapstructure:"maxRetry"`
}

func (m *Mongo) Build() *mongoutil.Config {
	return &mongoutil.Config{
		Uri:         m.URI,
		Address:     m.Address,
		Database:    m.Database,
		Username:    m.Username,
		Password:    m.Password,
		MaxPoolSize: m.MaxPoolSize,
		MaxRetry:    m.MaxRetry,
	}
}

type Redis struct {
	Address     []string `mapstructure:"address"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	ClusterMode bool     `mapstructure:"clusterMode"`
	DB          int      `mapstructure:"storage"`
	MaxRetry    int      `mapstructure:"maxRetry"`
	PoolSize    int      `mapstructure:"poolSize"`
}

func (r *Redis) Build() *redisutil.Config {
	return &redisutil.Config{
		ClusterMode: r.ClusterMode,
		Address:     r.Address,
		Username:    r.Username,
		Password:    r.Password,
		DB:          r.DB,
		MaxRetry:    r.MaxRetry,
		PoolSize:    r.PoolSize,
	}
}

type Log struct {
	StorageLocation     string `mapstructure:"storageLocation"`
	RotationTime        uint   `mapstructure:"rotationTime"`
	RemainRotationCount uint   `mapstructure:"remainRotationCount"`
	RemainLogLevel      int    `mapstructure:"remainLogLevel"`
	IsStdout            bool   `mapstructure:"isStdout"`
	IsJson              bool   `mapstructure:"isJson"`
	WithStack           bool   `mapstructure:"withStack"`
}

// API is the HTTP carrier configuration.
type API struct {
	ListenIP       string `mapstructure:"listenIP"`
	Ports          []int  `mapstructure:"ports"`
	GinDebug       bool   `mapstructure:"ginDebug"`
	Prometheus     bool   `mapstructure:"prometheus"`
	RequestTimeout int    `mapstructure:"requestTimeout"` // seconds, 0 means the 180s default
}

// Limiter is one named token bucket: burst permits per period.
type Limiter struct {
	PeriodMs int64 `mapstructure:"periodMs"`
	Burst    int64 `mapstructure:"burst"`
}

// RateLimit carries all limiter settings; the registry watches this block for
// hot reload.
type RateLimit struct {
	GroupCreation   Limiter `mapstructure:"groupCreation"`
	GroupKeysUpdate Limiter `mapstructure:"groupKeysUpdate"`
	DhKeys          Limiter `mapstructure:"dhKeys"`
	GroupMemberJoin Limiter `mapstructure:"groupMemberJoin"`
}

// KeyEpoch holds the rotation-policy thresholds and quorum size.
type KeyEpoch struct {
	PowerGroupMin         int   `mapstructure:"powerGroupMin"`
	PowerGroupMax         int   `mapstructure:"powerGroupMax"`
	NormalGroupRefreshMax int   `mapstructure:"normalGroupRefreshMax"`
	CandidateCount        int   `mapstructure:"candidateCount"`
	KeepWindow            int64 `mapstructure:"keepWindow"` // key versions kept behind latest, 0 disables GC
	// SysMsgRetentionDays bounds the system-message log; 0 disables pruning.
	SysMsgRetentionDays int    `mapstructure:"sysMsgRetentionDays"`
	GCCronSpec          string `mapstructure:"gcCronSpec"`
}

// Share is configuration common to every component.
type Share struct {
	Host              string   `mapstructure:"host"`
	AccountURL        string   `mapstructure:"accountURL"`
	PrivilegedUserIDs []string `mapstructure:"privilegedUserIDs"`
}

// GroupServer is the root config of the groupserver binary.
type GroupServer struct {
	API       API       `mapstructure:"api"`
	Mongo     Mongo     `mapstructure:"mongo"`
	Redis     Redis     `mapstructure:"redis"`
	Log       Log       `mapstructure:"log"`
	RateLimit RateLimit `mapstructure:"rateLimit"`
	KeyEpoch  KeyEpoch  `mapstructure:"keyEpoch"`
	Share     Share     `mapstructure:"share"`
}

const (
	DefaultPowerGroupMin         = 200
	DefaultPowerGroupMax         = 220
	DefaultNormalGroupRefreshMax = 240
	DefaultCandidateCount        = 5

	DefaultLimitPeriodMs = 24 * 60 * 60 * 1000

	DefaultGCCronSpec = "0 2 * * *"
)

// ApplyDefaults fills the zero fields that have well-known defaults.
func (c *GroupServer) ApplyDefaults() {
	if c.KeyEpoch.PowerGroupMin == 0 {
		c.KeyEpoch.PowerGroupMin = DefaultPowerGroupMin
	}
	if c.KeyEpoch.PowerGroupMax == 0 {
		c.KeyEpoch.PowerGroupMax = DefaultPowerGroupMax
	}
	if c.KeyEpoch.NormalGroupRefreshMax == 0 {
		c.KeyEpoch.NormalGroupRefreshMax = DefaultNormalGroupRefreshMax
	}
	if c.KeyEpoch.CandidateCount == 0 {
		c.KeyEpoch.CandidateCount = DefaultCandidateCount
	}
	if c.KeyEpoch.GCCronSpec == "" {
		c.KeyEpoch.GCCronSpec = DefaultGCCronSpec
	}
	defLimiter := func(l *Limiter, burst int64) {
		if l.PeriodMs == 0 {
			l.PeriodMs = DefaultLimitPeriodMs
		}
		if l.Burst == 0 {
			l.Burst = burst
		}
	}
	defLimiter(&c.RateLimit.GroupCreation, 20)
	defLimiter(&c.RateLimit.GroupKeysUpdate, 50)
	defLimiter(&c.RateLimit.DhKeys, 20)
	defLimiter(&c.RateLimit.GroupMemberJoin, 30)
}

// ServerAddress is the host:port identity announced on the presence channel.
func (c *GroupServer) ServerAddress() string {
	port := 0
	if len(c.API.Ports) > 0 {
		port = c.API.Ports[0]
	}
	return fmt.Sprintf("%s:%d", c.Share.Host, port)
}
