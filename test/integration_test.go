package test

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loopholelabs/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiopolicy/audio"
	"audiopolicy/client"
	"audiopolicy/codec"
	"audiopolicy/config"
	"audiopolicy/engine"
	"audiopolicy/message"
	"audiopolicy/middleware"
	"audiopolicy/policy"
	"audiopolicy/registry"
	"audiopolicy/server"
)

const testConfig = `
server {
  request_timeout = "1s"
}

engine {
  max_outputs = 2

  stream "music" {
    min   = 0
    max   = 15
    index = 5
  }
}
`

type stack struct {
	server  *server.Server
	addr    string
	metrics *prometheus.Registry
}

// startStack runs the daemon's serving path: config, engine, dispatcher and the full
// middleware chain over TCP.
func startStack(t testing.TB, extra ...middleware.Middleware) *stack {
	t.Helper()

	conf := new(config.Schema)
	require.NoError(t, conf.Decode([]byte(testConfig)))

	log := logging.New(logging.Zerolog, "audiopolicy.test", os.Stderr)
	dispatcher := policy.NewDispatcher(engine.New(conf.Engine, log), policy.WithDispatcherLogger(log))

	reg := prometheus.NewRegistry()
	svr := server.NewServer(dispatcher.Handler(), server.WithLogger(log))
	svr.Use(middleware.LoggingMiddleware(log, policy.CodeName))
	svr.Use(middleware.NewMetrics(reg, policy.CodeName).Middleware())
	for _, mw := range extra {
		svr.Use(mw)
	}
	svr.Use(middleware.TimeOutMiddleware(conf.Server.RequestTimeoutDuration()))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = svr.ServeListener(l, "") }()

	s := &stack{server: svr, addr: l.Addr().String(), metrics: reg}
	t.Cleanup(func() { _ = svr.Shutdown(3 * time.Second) })
	return s
}

func dialProxy(t testing.TB, addr string) (*policy.Proxy, *client.Client) {
	t.Helper()
	cli := client.Dial(addr, client.WithHeartbeat(0))
	t.Cleanup(func() { _ = cli.Close() })
	return policy.NewProxy(cli), cli
}

func TestPlaybackSession(t *testing.T) {
	s := startStack(t)
	p, _ := dialProxy(t, s.addr)
	ctx := context.Background()

	require.NoError(t, p.SetDeviceConnectionState(ctx, audio.DeviceOutWiredHeadset, audio.DeviceAvailable, ""))
	state, err := p.GetDeviceConnectionState(ctx, audio.DeviceOutWiredHeadset, "")
	require.NoError(t, err)
	assert.Equal(t, audio.DeviceAvailable, state)

	// Connecting twice is a policy error, passed through untouched.
	err = p.SetDeviceConnectionState(ctx, audio.DeviceOutWiredHeadset, audio.DeviceAvailable, "")
	assert.ErrorIs(t, err, audio.StatusInvalidOperation)

	require.NoError(t, p.SetForceUse(ctx, audio.ForUseMedia, audio.ForceHeadphones))
	forced, err := p.GetForceUse(ctx, audio.ForUseMedia)
	require.NoError(t, err)
	assert.Equal(t, audio.ForceHeadphones, forced)

	out, err := p.GetOutput(ctx, audio.StreamMusic, 44100, audio.FormatPCM16, 0x3, audio.OutputFlagIndirect)
	require.NoError(t, err)
	require.True(t, out.Valid())

	require.NoError(t, p.StartOutput(ctx, out, audio.StreamMusic))
	require.NoError(t, p.StopOutput(ctx, out, audio.StreamMusic))
	assert.ErrorIs(t, p.StopOutput(ctx, out, audio.StreamMusic), audio.StatusInvalidOperation)
	require.NoError(t, p.ReleaseOutput(ctx, out))

	// Released handles are unknown to the engine.
	assert.ErrorIs(t, p.StartOutput(ctx, out, audio.StreamMusic), audio.StatusBadValue)
}

func TestOutputLimitReturnsSentinelHandle(t *testing.T) {
	s := startStack(t)
	p, _ := dialProxy(t, s.addr)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		h, err := p.GetOutput(ctx, audio.StreamMusic, 48000, audio.FormatPCM16, 0x3, audio.OutputFlagIndirect)
		require.NoError(t, err)
		require.True(t, h.Valid())
	}
	h, err := p.GetOutput(ctx, audio.StreamMusic, 48000, audio.FormatPCM16, 0x3, audio.OutputFlagIndirect)
	assert.ErrorIs(t, err, policy.ErrInvalidHandle)
	assert.Equal(t, audio.InvalidHandle, h)
}

func TestCaptureSession(t *testing.T) {
	s := startStack(t)
	p, _ := dialProxy(t, s.addr)
	ctx := context.Background()

	first, err := p.GetInput(ctx, audio.SourceMic, 16000, audio.FormatPCM16, 0x1, audio.AcousticsAGCEnable)
	require.NoError(t, err)
	second, err := p.GetInput(ctx, audio.SourceVoiceRecognition, 16000, audio.FormatPCM16, 0x1, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.NoError(t, p.StartInput(ctx, first))
	assert.ErrorIs(t, p.StartInput(ctx, second), audio.StatusInvalidOperation)
	require.NoError(t, p.StopInput(ctx, first))
	require.NoError(t, p.StartInput(ctx, second))

	require.NoError(t, p.ReleaseInput(ctx, first))
	require.NoError(t, p.ReleaseInput(ctx, second))
	// Releasing an unknown handle still gets an (empty) reply.
	require.NoError(t, p.ReleaseInput(ctx, second))
}

func TestVolume(t *testing.T) {
	s := startStack(t)
	p, _ := dialProxy(t, s.addr)
	ctx := context.Background()

	// Preloaded from the engine block.
	v, err := p.GetStreamVolumeIndex(ctx, audio.StreamMusic)
	require.NoError(t, err)
	assert.Equal(t, 5, v.Index)

	require.NoError(t, p.SetStreamVolumeIndex(ctx, audio.StreamMusic, 12))
	v, err = p.GetStreamVolumeIndex(ctx, audio.StreamMusic)
	require.NoError(t, err)
	assert.Equal(t, policy.VolumeIndex{Index: 12, Status: audio.StatusOK}, v)

	assert.ErrorIs(t, p.SetStreamVolumeIndex(ctx, audio.StreamMusic, 16), audio.StatusBadValue)

	_, err = p.GetStreamVolumeIndex(ctx, audio.StreamAlarm)
	assert.ErrorIs(t, err, audio.StatusNoInit)

	require.NoError(t, p.InitStreamVolume(ctx, audio.StreamAlarm, 1, 7))
	v, err = p.GetStreamVolumeIndex(ctx, audio.StreamAlarm)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Index)
}

func TestPhoneAndRinger(t *testing.T) {
	s := startStack(t)
	p, _ := dialProxy(t, s.addr)
	ctx := context.Background()

	require.NoError(t, p.SetPhoneState(ctx, audio.PhoneStateRingtone))
	require.NoError(t, p.SetPhoneState(ctx, audio.PhoneStateInCall))
	assert.ErrorIs(t, p.SetPhoneState(ctx, audio.PhoneState(9)), audio.StatusBadValue)
	require.NoError(t, p.SetRingerMode(ctx, audio.RingerSilent, 0xffffffff))
}

func TestLongDeviceAddress(t *testing.T) {
	s := startStack(t)
	p, _ := dialProxy(t, s.addr)
	ctx := context.Background()

	addr := strings.Repeat("a", codec.MaxCStringLen-1)
	require.NoError(t, p.SetDeviceConnectionState(ctx, audio.DeviceOutBluetoothSCO, audio.DeviceAvailable, addr))
	state, err := p.GetDeviceConnectionState(ctx, audio.DeviceOutBluetoothSCO, addr)
	require.NoError(t, err)
	assert.Equal(t, audio.DeviceAvailable, state)

	state, err = p.GetDeviceConnectionState(ctx, audio.DeviceOutBluetoothSCO, "")
	require.NoError(t, err)
	assert.Equal(t, audio.DeviceUnavailable, state)
}

func TestInterfaceQuery(t *testing.T) {
	s := startStack(t)
	_, cli := dialProxy(t, s.addr)

	req := codec.NewParcel()
	req.WriteInterfaceToken(policy.Descriptor)
	req.WriteUint32(uint32(policy.CodeInterface))
	data, err := cli.Transact(context.Background(), req.Bytes())
	require.NoError(t, err)

	name, err := codec.ParcelFrom(data).ReadCString()
	require.NoError(t, err)
	assert.Equal(t, policy.Descriptor, name)
}

func TestRejectionsOverTheWire(t *testing.T) {
	s := startStack(t)
	p, cli := dialProxy(t, s.addr)
	ctx := context.Background()

	t.Run("unknown code", func(t *testing.T) {
		req := codec.NewParcel()
		req.WriteInterfaceToken(policy.Descriptor)
		req.WriteUint32(99)
		_, err := cli.Transact(ctx, req.Bytes())
		var re *message.RemoteError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, message.StatusUnknownTransaction, re.Status)
	})

	t.Run("foreign interface", func(t *testing.T) {
		foreign := policy.NewProxy(cli, policy.WithInterface("android.media.IAudioFlinger"))
		err := foreign.SetPhoneState(ctx, audio.PhoneStateNormal)
		assert.ErrorIs(t, err, policy.ErrUnauthorizedInterface)
	})

	t.Run("truncated", func(t *testing.T) {
		req := codec.NewParcel()
		req.WriteInterfaceToken(policy.Descriptor)
		req.WriteUint32(uint32(policy.CodeSetForceUse))
		req.WriteInt32(int32(audio.ForUseMedia))
		_, err := cli.Transact(ctx, req.Bytes())
		var re *message.RemoteError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, message.StatusNotEnoughData, re.Status)

		// Nothing reached the engine.
		forced, err := p.GetForceUse(ctx, audio.ForUseMedia)
		require.NoError(t, err)
		assert.Equal(t, audio.ForceNone, forced)
	})
}

func TestMetricsCountTransactions(t *testing.T) {
	s := startStack(t)
	p, _ := dialProxy(t, s.addr)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.SetPhoneState(ctx, audio.PhoneStateNormal))
	}
	n, err := testutil.GatherAndCount(s.metrics, "audiopolicy_server_transactions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRateLimitedServer(t *testing.T) {
	s := startStack(t, middleware.RateLimitMiddleware(1, 1))
	p, _ := dialProxy(t, s.addr)
	ctx := context.Background()

	require.NoError(t, p.SetPhoneState(ctx, audio.PhoneStateNormal))
	err := p.SetPhoneState(ctx, audio.PhoneStateNormal)

	var te *policy.TransportError
	require.ErrorAs(t, err, &te)
	var re *message.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, message.StatusWouldBlock, re.Status)
}

func TestConcurrentClients(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for c := 0; c < 4; c++ {
		p, _ := dialProxy(t, s.addr)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				if _, err := p.GetForceUse(ctx, audio.ForUseRecord); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// TestDiscoveryWithEtcd runs the registry path end to end: the server announces itself,
// the client finds it by service name, and Shutdown withdraws the announcement.
func TestDiscoveryWithEtcd(t *testing.T) {
	env := os.Getenv("ETCD_ENDPOINTS")
	if env == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}

	reg, err := registry.NewEtcdRegistry(strings.Split(env, ","), 5*time.Second)
	require.NoError(t, err)
	defer reg.Close()

	service := "audiopolicy-test-" + uuid.NewString()
	svr := server.NewServer(policy.NewDispatcher(engine.New(nil, nil)).Handler(),
		server.WithRegistry(reg, service, 10),
		server.WithInstance(registry.ServiceInstance{Interface: policy.Descriptor}))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = svr.ServeListener(l, "") }()

	ctx := context.Background()
	require.Eventually(t, func() bool {
		instances, err := reg.Discover(ctx, service)
		return err == nil && len(instances) == 1
	}, 5*time.Second, 50*time.Millisecond)

	cli := client.NewClient(reg, service, client.WithHeartbeat(0))
	defer cli.Close()
	p := policy.NewProxy(cli)
	require.NoError(t, p.SetPhoneState(ctx, audio.PhoneStateInCall))

	inst, ok := cli.Instance()
	require.True(t, ok)
	assert.Equal(t, l.Addr().String(), inst.Addr)
	assert.Equal(t, policy.Descriptor, inst.Interface)

	require.NoError(t, svr.Shutdown(3*time.Second))
	instances, err := reg.Discover(ctx, service)
	require.NoError(t, err)
	assert.Empty(t, instances)
}
