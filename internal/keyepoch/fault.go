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

package keyepoch

import "context"

// FaultInjector hooks the three fragile points of the rotation protocol so
// tests can insert delays or failures. Production wiring uses NopInjector.
type FaultInjector interface {
	BeforeRequest(ctx context.Context) error
	BeforeUpload(ctx context.Context) error
	BeforeSwitch(ctx context.Context) error
}

func NopInjector() FaultInjector { return nopInjector{} }

type nopInjector struct{}

func (nopInjector) BeforeRequest(context.Context) error { return nil }
func (nopInjector) BeforeUpload(context.Context) error  { return nil }
func (nopInjector) BeforeSwitch(context.Context) error  { return nil }
