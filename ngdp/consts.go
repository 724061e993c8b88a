/*
Copyright 2017 Luke Granger-Brown

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ngdp

// A ProgramCode is a reference to a particular game or game release channel.
//
// Blizzard tracks release and PTR as separate program codes, even though they usually refer to the same underlying CDN storage.
type ProgramCode string

const (
	ProgramDiablo3        ProgramCode = "d3"
	ProgramDiablo3Test    ProgramCode = "d3t"
	ProgramDiablo4        ProgramCode = "fenris"
	ProgramDiablo4Beta    ProgramCode = "fenrisb"
	ProgramHearthstone    ProgramCode = "hsb"
	ProgramHotS           ProgramCode = "hero"
	ProgramHotSTest       ProgramCode = "herot"
	ProgramOverwatch      ProgramCode = "pro"
	ProgramOverwatchTest  ProgramCode = "prot"
	ProgramWarcraft3      ProgramCode = "w3"
	ProgramWoW            ProgramCode = "wow"
	ProgramWoWBeta        ProgramCode = "wow_beta"
	ProgramWoWClassic     ProgramCode = "wow_classic"
	ProgramWoWClassicEra  ProgramCode = "wow_classic_era"
	ProgramWoWClassicTest ProgramCode = "wow_classic_ptr"
	ProgramWoWTest        ProgramCode = "wowt"
)

// Programs maps the long names accepted on the command line to program codes.
var Programs = map[string]ProgramCode{
	"diablo3":         ProgramDiablo3,
	"diablo3-ptr":     ProgramDiablo3Test,
	"diablo4":         ProgramDiablo4,
	"diablo4-beta":    ProgramDiablo4Beta,
	"hearthstone":     ProgramHearthstone,
	"heroes":          ProgramHotS,
	"heroes-ptr":      ProgramHotSTest,
	"overwatch":       ProgramOverwatch,
	"overwatch-test":  ProgramOverwatchTest,
	"warcraft3":       ProgramWarcraft3,
	"wow":             ProgramWoW,
	"wow-beta":        ProgramWoWBeta,
	"wow-classic":     ProgramWoWClassic,
	"wow-classic-era": ProgramWoWClassicEra,
	"wow-classic-ptr": ProgramWoWClassicTest,
	"wow-ptr":         ProgramWoWTest,
}

// A Region is a reference to a game region, and is used for finding the nearest CDNs.
//
// In most cases, Akamai and Level3 are used anyway - China being the main exception.
type Region string

// The region codes below are the ones known to be served by the patch servers at the time of writing.
const (
	RegionUnitedStates Region = "us"
	RegionEurope       Region = "eu"
	RegionChina        Region = "cn"
	RegionKorea        Region = "kr"
	RegionTaiwan       Region = "tw"
	RegionSingapore    Region = "sg"

	DefaultRegion = RegionUnitedStates
)

// A ContentType is a type of thing stored on the CDN.
//
// Each separate content type is stored under a different directory.
type ContentType string

// The content types below are believed to be exhaustive.
const (
	ContentTypeConfig ContentType = "config"
	ContentTypeData   ContentType = "data"
	ContentTypePatch  ContentType = "patch"
)
