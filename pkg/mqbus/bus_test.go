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

package mqbus

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Kind string `json:"kind"`
	GID  int64  `json:"gid"`
}

func TestPublishReportsSubscribers(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	bus := NewRedisBus(rdb)

	payload := &testPayload{Kind: "k", GID: 7}
	mock.ExpectPublish("group_event_msg", []byte(`{"kind":"k","gid":7}`)).SetVal(3)

	sent, err := bus.PublishGroupEvent(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 3, sent.Subscribers)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishToUserChannel(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	bus := NewRedisBus(rdb)

	mock.ExpectPublish("user_u1", []byte(`{"kind":"k","gid":1}`)).SetVal(0)

	sent, err := bus.PublishToUser(context.Background(), "u1", &testPayload{Kind: "k", GID: 1})
	require.NoError(t, err)
	// nobody listening is still a success
	assert.Equal(t, 0, sent.Subscribers)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishErrorWrapped(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	bus := NewRedisBus(rdb)

	mock.ExpectPublish("group_event_msg", []byte(`{"kind":"k","gid":1}`)).SetErr(assert.AnError)

	_, err := bus.PublishGroupEvent(context.Background(), &testPayload{Kind: "k", GID: 1})
	assert.Error(t, err)
}
