// Copyright 2023 The iodisco Authors.
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

package device

import (
	"github.com/syndtr/gocapability/capability"
)

// elevatedCaps are the capabilities that would let the process reach
// device nodes without group membership.
var elevatedCaps = []capability.Cap{
	capability.CAP_SYS_ADMIN,
	capability.CAP_SYS_RAWIO,
	capability.CAP_DAC_OVERRIDE,
	capability.CAP_DAC_READ_SEARCH,
	capability.CAP_FOWNER,
}

// Privileges returns the elevated capabilities in the effective set of the
// process. None of them are needed.
func Privileges() ([]string, error) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return nil, err
	}
	if err := caps.Load(); err != nil {
		return nil, err
	}
	var res []string
	for _, c := range elevatedCaps {
		if caps.Get(capability.EFFECTIVE, c) {
			res = append(res, c.String())
		}
	}
	return res, nil
}
