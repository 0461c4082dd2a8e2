// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package beacon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/privacy"
	"github.com/bureau-foundation/beacon/lib/recordcache"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
)

// Metadata is the agent-wide description every beacon of an agent
// shares.
type Metadata struct {
	ApplicationID      string
	ApplicationName    string
	ApplicationVersion string
	AgentVersion       string
	Technology         string

	OperatingSystem string
	Manufacturer    string
	Model           string

	Privacy privacy.Settings
}

// Options configures a Beacon.
type Options struct {
	Metadata Metadata

	// Cache receives serialized records. Required.
	Cache *recordcache.Cache

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// SessionID and SequenceNumber form the cache key. SessionID must
	// be unique per logical session; zero means SessionNumber.
	SessionID      int32
	SequenceNumber int32

	// SessionNumber is the reported "sn" value. Several logical
	// sessions may report the same number.
	SessionNumber int32

	// DeviceID is the resolved numeric device id (see ResolveDeviceID).
	DeviceID int64

	// ClientIP is forwarded with every chunk. Optional.
	ClientIP string

	// ThreadID is the "it" value. Defaults to the process id.
	ThreadID int

	// Configuration is the initial server configuration. The zero
	// value is replaced with serverconfig.Default().
	Configuration serverconfig.Configuration
}

// Beacon holds the serialization state of one physical session.
type Beacon struct {
	metadata Metadata
	cache    *recordcache.Cache
	clock    clock.Clock
	key      recordcache.Key

	// sessionNumber is reported on the wire; the cache key uses the
	// unique SessionID instead.
	sessionNumber int32
	deviceID      int64
	clientIP      string
	threadID      int
	startTime     time.Time
	basicData     string

	nextID       atomic.Int32
	nextSequence atomic.Int32

	mu               sync.Mutex
	configuration    serverconfig.Configuration
	configurationSet bool
}

// New creates a Beacon. Panics if Cache is nil.
func New(options Options) *Beacon {
	if options.Cache == nil {
		panic("beacon: nil record cache")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.ThreadID == 0 {
		options.ThreadID = os.Getpid()
	}
	if options.SessionID == 0 {
		options.SessionID = options.SessionNumber
	}
	if options.Configuration == (serverconfig.Configuration{}) {
		options.Configuration = serverconfig.Default()
	}

	b := &Beacon{
		metadata:      options.Metadata,
		cache:         options.Cache,
		clock:         options.Clock,
		key:           recordcache.Key{SessionID: options.SessionID, SequenceNumber: options.SequenceNumber},
		sessionNumber: options.SessionNumber,
		deviceID:      options.DeviceID,
		clientIP:      options.ClientIP,
		threadID:      options.ThreadID,
		startTime:     options.Clock.Now(),
		configuration: options.Configuration,
	}
	b.basicData = b.buildBasicData()
	return b
}

// Key returns the record cache key of this beacon.
func (b *Beacon) Key() recordcache.Key { return b.key }

// SessionNumber returns the logical session number.
func (b *Beacon) SessionNumber() int32 { return b.sessionNumber }

// SequenceNumber returns the split sequence number.
func (b *Beacon) SequenceNumber() int32 { return b.key.SequenceNumber }

// DeviceID returns the numeric device id sent as "vi".
func (b *Beacon) DeviceID() int64 { return b.deviceID }

// ClientIP returns the client IP forwarded with every chunk.
func (b *Beacon) ClientIP() string { return b.clientIP }

// StartTime returns the session start time.
func (b *Beacon) StartTime() time.Time { return b.startTime }

// CreateID returns the next action id, starting at 1.
func (b *Beacon) CreateID() int32 { return b.nextID.Add(1) }

// CreateSequenceNumber returns the next event sequence number,
// starting at 1.
func (b *Beacon) CreateSequenceNumber() int32 { return b.nextSequence.Add(1) }

// RelativeTime returns t as milliseconds since the session start.
func (b *Beacon) RelativeTime(t time.Time) int64 {
	return t.Sub(b.startTime).Milliseconds()
}

// Configuration returns the current server configuration.
func (b *Beacon) Configuration() serverconfig.Configuration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configuration
}

// IsConfigured reports whether a server configuration was applied.
func (b *Beacon) IsConfigured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configurationSet
}

// UpdateServerConfiguration applies a configuration received from the
// server. The first one replaces the initial configuration verbatim;
// later ones are merged field by field.
func (b *Beacon) UpdateServerConfiguration(update serverconfig.Configuration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.configurationSet {
		b.configuration = b.configuration.Merge(update)
	} else {
		b.configuration = update
		b.configurationSet = true
	}
}

// InitializeServerConfiguration pre-configures a beacon created by a
// split with the configuration its predecessor already received. It
// has no effect on a beacon that is already configured.
func (b *Beacon) InitializeServerConfiguration(initial serverconfig.Configuration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.configurationSet {
		return
	}
	b.configuration = initial
	b.configurationSet = true
}

// DisableCapture mutes the beacon: no records are accepted and nothing
// is sent. The configured flag is unchanged.
func (b *Beacon) DisableCapture() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configuration = b.configuration.WithCapture(false)
}

// EnableCapture turns capture back on.
func (b *Beacon) EnableCapture() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configuration = b.configuration.WithCapture(true)
}

// CaptureEnabled reports whether records are currently accepted.
func (b *Beacon) CaptureEnabled() bool {
	return b.Configuration().SendingDataAllowed()
}

// IsEmpty reports whether no records are cached or in flight.
func (b *Beacon) IsEmpty() bool { return b.cache.IsEmpty(b.key) }

// ClearData drops every cached record of this beacon.
func (b *Beacon) ClearData() { b.cache.Delete(b.key) }

// CreateTag returns the web request tracing tag for a request started
// under parentActionID, or "" when tracing is not permitted.
func (b *Beacon) CreateTag(parentActionID, sequenceNumber int32) string {
	if !b.metadata.Privacy.WebRequestTracingAllowed() {
		return ""
	}
	session := strconv.FormatInt(int64(b.sessionNumber), 10)
	if visitStore := b.Configuration().VisitStoreVersion; visitStore > 1 {
		session += "-" + strconv.FormatInt(int64(b.key.SequenceNumber), 10)
	}
	return strings.Join([]string{
		"MT",
		strconv.Itoa(protocolVersion),
		strconv.Itoa(b.Configuration().ServerID),
		strconv.FormatInt(b.deviceID, 10),
		session,
		percentEncode(b.metadata.ApplicationID),
		strconv.FormatInt(int64(parentActionID), 10),
		strconv.Itoa(b.threadID),
		strconv.FormatInt(int64(sequenceNumber), 10),
	}, "_")
}

func (b *Beacon) buildBasicData() string {
	var e encoder
	e.addInt(keyProtocolVersion, protocolVersion)
	e.add(keyAgentVersion, b.metadata.AgentVersion)
	e.add(keyApplicationID, b.metadata.ApplicationID)
	e.addIfPresent(keyApplicationName, b.metadata.ApplicationName)
	e.addIfPresent(keyApplicationVersion, b.metadata.ApplicationVersion)
	e.addInt(keyPlatformType, platformType)
	e.addIfPresent(keyAgentTechnology, b.metadata.Technology)
	e.addInt(keyVisitorID, b.deviceID)
	e.addInt(keySessionNumber, int64(b.sessionNumber))
	e.addIfPresent(keyClientIP, b.clientIP)
	e.addIfPresent(keyOperatingSystem, b.metadata.OperatingSystem)
	e.addIfPresent(keyManufacturer, b.metadata.Manufacturer)
	e.addIfPresent(keyModel, b.metadata.Model)
	e.addInt(keyDataCollectionLevel, int64(b.metadata.Privacy.DataCollection))
	e.addInt(keyCrashReportingLevel, int64(b.metadata.Privacy.CrashReporting))
	return e.String()
}

// chunkPrefix returns the basic data followed by the transmission
// fields current at now.
func (b *Beacon) chunkPrefix(now time.Time) string {
	configuration := b.Configuration()
	var e encoder
	e.addInt(keyMultiplicity, int64(configuration.Multiplicity))
	e.addInt(keyVisitStore, int64(configuration.VisitStoreVersion))
	if configuration.VisitStoreVersion > 1 {
		e.addInt(keySequenceNumber, int64(b.key.SequenceNumber))
	}
	e.addInt(keyTransmissionTime, clock.UnixMillis(now))
	e.addInt(keySessionStartTime, clock.UnixMillis(b.startTime))
	return b.basicData + "&" + e.String()
}

func (b *Beacon) String() string {
	return fmt.Sprintf("beacon(%s)", b.key)
}
