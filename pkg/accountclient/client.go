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

// Package accountclient talks to the account service for public keys,
// contact mutuality and device key bundles.
package accountclient

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/sealmsg/group-server/pkg/common/storage/model"
	"github.com/sealmsg/group-server/pkg/util/accountid"

	"github.com/openimsdk/tools/errs"
	"github.com/openimsdk/tools/utils/jsonutil"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string) *Client {
	return &Client{base: baseURL, http: &http.Client{Timeout: defaultTimeout}}
}

func (c *Client) post(ctx context.Context, path string, req, resp any) error {
	body, err := jsonutil.JsonMarshal(req)
	if err != nil {
		return errs.Wrap(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return errs.WrapMsg(err, "account service unreachable", "path", path)
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return errs.Wrap(err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return errs.New("account service error", "path", path, "status", httpResp.StatusCode).Wrap()
	}
	return errs.Wrap(jsonutil.JsonUnmarshal(data, resp))
}

type publicKeyReq struct {
	UID string `json:"uid"`
}

type publicKeyResp struct {
	PublicKey string `json:"publicKey"`
}

func (c *Client) GetPublicKey(ctx context.Context, uid string) (ed25519.PublicKey, error) {
	var resp publicKeyResp
	if err := c.post(ctx, "/v1/account/public_key", &publicKeyReq{UID: uid}, &resp); err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(resp.PublicKey)
	if err != nil {
		return nil, errs.WrapMsg(err, "bad public key encoding", "uid", uid)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, errs.New("bad public key size", "uid", uid, "size", len(key)).Wrap()
	}
	pub := ed25519.PublicKey(key)
	// The uid is derivable from the key; a mismatch means the account
	// service handed back somebody else's key.
	if !accountid.Owns(uid, pub) {
		return nil, errs.New("public key does not derive uid", "uid", uid).Wrap()
	}
	return pub, nil
}

type mutualReq struct {
	A string `json:"a"`
	B string `json:"b"`
}

type mutualResp struct {
	Mutual bool `json:"mutual"`
}

func (c *Client) IsMutualContact(ctx context.Context, a, b string) (bool, error) {
	var resp mutualResp
	if err := c.post(ctx, "/v1/account/mutual_contact", &mutualReq{A: a, B: b}, &resp); err != nil {
		return false, err
	}
	return resp.Mutual, nil
}

type bundlesReq struct {
	UIDs []string `json:"uids"`
}

type bundlesResp struct {
	Keys []*model.KeyBundle `json:"keys"`
}

func (c *Client) LoadBundles(ctx context.Context, uids []string) ([]*model.KeyBundle, error) {
	var resp bundlesResp
	if err := c.post(ctx, "/v1/account/dh_keys", &bundlesReq{UIDs: uids}, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}
