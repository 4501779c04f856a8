// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package estransport

import (
	"fmt"
	"runtime"
)

// Version is the library version reported in the User-Agent header.
const Version = "1.0.0"

// libraryName is the product token used in the User-Agent header.
const libraryName = "estransport-go"

// userAgent is computed once per process: "<libname>/<version>
// (<os-platform> <os-release>-<arch>; Runtime <version>)".
var userAgent = fmt.Sprintf("%s/%s (%s %s-%s; Runtime %s)",
	libraryName, Version, runtime.GOOS, osRelease(), runtime.GOARCH, runtime.Version())

// osRelease is a placeholder for a kernel/OS release string; Go has no
// portable way to read it, so the runtime/GOOS family name is used in its
// place, matching the spirit of the spec's User-Agent format.
func osRelease() string {
	return runtime.GOOS
}
