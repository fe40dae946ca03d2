package provisioning

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/keys"
)

// Role is the provisioning participant role.
type Role int

const (
	// RoleProvisioner hands out the network key and address.
	RoleProvisioner Role = iota
	// RoleDevice is the unprovisioned device.
	RoleDevice
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleProvisioner:
		return "Provisioner"
	case RoleDevice:
		return "Device"
	default:
		return "Unknown"
	}
}

// State is the provisioning state machine state.
type State int

const (
	StateInit State = iota
	StateWaitingCapabilities       // Provisioner: sent Invite
	StateWaitingStart              // Device: sent Capabilities
	StateWaitingPublicKey          // Both: Start exchanged
	StateWaitingConfirmation       // Both: public keys exchanged
	StateWaitingRandom             // Both: confirmations exchanged
	StateWaitingData               // Device: sent Random
	StateWaitingComplete           // Provisioner: sent Data
	StateComplete
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateWaitingCapabilities:
		return "WaitingCapabilities"
	case StateWaitingStart:
		return "WaitingStart"
	case StateWaitingPublicKey:
		return "WaitingPublicKey"
	case StateWaitingConfirmation:
		return "WaitingConfirmation"
	case StateWaitingRandom:
		return "WaitingRandom"
	case StateWaitingData:
		return "WaitingData"
	case StateWaitingComplete:
		return "WaitingComplete"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// NumericAuthValue encodes an output or input OOB number as a 16-byte
// big-endian AuthValue.
func NumericAuthValue(n uint32) [AuthValueSize]byte {
	var v [AuthValueSize]byte
	v[12] = byte(n >> 24)
	v[13] = byte(n >> 16)
	v[14] = byte(n >> 8)
	v[15] = byte(n)
	return v
}

// session holds what both roles share: the transcript and derived keys.
type session struct {
	role  Role
	state State

	invite *Invite
	caps   *Capabilities
	start  *Start

	keyPair   *crypto.P256KeyPair
	peerKey   []byte
	secret    []byte
	authValue [AuthValueSize]byte

	confKeys    ConfirmationKeys
	localRandom [RandomSize]byte
	peerConf    [ConfirmationSize]byte
	sessionKeys SessionKeys

	failure FailureCode

	rand io.Reader
	log  logging.LeveledLogger
	mu   sync.Mutex
}

func newSession(role Role, keyPair *crypto.P256KeyPair, rnd io.Reader, lf logging.LoggerFactory) (*session, error) {
	if keyPair == nil {
		var err error
		if keyPair, err = crypto.P256GenerateKeyPair(); err != nil {
			return nil, err
		}
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	s := &session{role: role, state: StateInit, keyPair: keyPair, rand: rnd}
	if lf != nil {
		s.log = lf.NewLogger("provisioning")
	}
	return s, nil
}

// expect checks the state under s.mu.
func (s *session) expect(state State) error {
	if s.state != state {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidState, s.role, s.state)
	}
	return nil
}

// fail moves the session to StateFailed and returns err.
func (s *session) fail(err error) error {
	s.state = StateFailed
	s.failure = failureFor(err)
	if s.log != nil {
		s.log.Warnf("%s: provisioning failed: %v", s.role, err)
	}
	return err
}

func (s *session) setState(next State) {
	if s.log != nil {
		s.log.Debugf("%s: %s -> %s", s.role, s.state, next)
	}
	s.state = next
}

// computeSecret runs ECDH against the peer key and derives the
// confirmation keys. provisionerKey and deviceKey are in wire order.
func (s *session) computeSecret(provisionerKey, deviceKey []byte) error {
	if subtle.ConstantTimeCompare(provisionerKey, deviceKey) == 1 {
		return fmt.Errorf("%w: peer echoed our public key", ErrInvalidPdu)
	}
	if s.role == RoleProvisioner {
		s.peerKey = deviceKey
	} else {
		s.peerKey = provisionerKey
	}
	secret, err := s.keyPair.ECDH(s.peerKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPdu, err)
	}
	s.secret = secret
	inputs := ConfirmationInputs(s.invite, s.caps, s.start, provisionerKey, deviceKey)
	s.confKeys, err = DeriveConfirmationKeys(inputs, secret)
	return err
}

// localConfirmation generates the local random and its confirmation value.
func (s *session) localConfirmation() (*Confirmation, error) {
	if _, err := io.ReadFull(s.rand, s.localRandom[:]); err != nil {
		return nil, err
	}
	v, err := ConfirmationValue(s.confKeys.Key, s.localRandom, s.authValue)
	if err != nil {
		return nil, err
	}
	return &Confirmation{Value: v}, nil
}

// checkPeerRandom verifies the peer's earlier confirmation against its
// random.
func (s *session) checkPeerRandom(peerRandom [RandomSize]byte) error {
	if subtle.ConstantTimeCompare(peerRandom[:], s.localRandom[:]) == 1 {
		return fmt.Errorf("%w: peer echoed our random", ErrConfirmationFailed)
	}
	want, err := ConfirmationValue(s.confKeys.Key, peerRandom, s.authValue)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want[:], s.peerConf[:]) != 1 {
		return ErrConfirmationFailed
	}
	return nil
}

// State returns the current state.
func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failure returns the failure code recorded when the session failed.
func (s *session) Failure() FailureCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// ProvisionerConfig configures a ProvisionerSession.
type ProvisionerConfig struct {
	// Data is sent to the device once authentication succeeds.
	Data ProvisioningData

	// AttentionDuration is carried in the Invite, in seconds.
	AttentionDuration uint8

	// AuthMethod selects the authentication method. AuthNoOOB by default.
	AuthMethod uint8

	// AuthAction and AuthSize are copied into the Start PDU for output and
	// input OOB.
	AuthAction uint8
	AuthSize   uint8

	// AuthValue is the OOB value. Must be nil for AuthNoOOB and 16 bytes
	// otherwise.
	AuthValue []byte

	// KeyPair is the ephemeral ECDH key pair. Generated if nil.
	KeyPair *crypto.P256KeyPair

	// Rand supplies the confirmation random. crypto/rand if nil.
	Rand io.Reader

	// LoggerFactory is used to create loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// ProvisionerSession drives provisioning from the provisioner side.
//
// Usage:
//
//	p, _ := provisioning.NewProvisionerSession(config)
//	invite, _ := p.Start()
//	// send invite, receive capabilities
//	out, _ := p.HandleCapabilities(caps) // Start, PublicKey
//	conf, _ := p.HandlePublicKey(devicePK)
//	random, _ := p.HandleConfirmation(deviceConf)
//	data, _ := p.HandleRandom(deviceRandom)
//	_ = p.HandleComplete(complete)
//	devKey := p.DeviceKey()
//
// Thread-safe for concurrent access.
type ProvisionerSession struct {
	*session
	config ProvisionerConfig
}

// NewProvisionerSession creates a provisioner session.
func NewProvisionerSession(config ProvisionerConfig) (*ProvisionerSession, error) {
	if err := config.Data.Validate(); err != nil {
		return nil, err
	}
	authValue, err := resolveAuthValue(config.AuthMethod, config.AuthValue)
	if err != nil {
		return nil, err
	}
	s, err := newSession(RoleProvisioner, config.KeyPair, config.Rand, config.LoggerFactory)
	if err != nil {
		return nil, err
	}
	s.authValue = authValue
	return &ProvisionerSession{session: s, config: config}, nil
}

func resolveAuthValue(method uint8, value []byte) ([AuthValueSize]byte, error) {
	var v [AuthValueSize]byte
	switch method {
	case AuthNoOOB:
		if value != nil {
			return v, ErrInvalidAuthValue
		}
	case AuthStaticOOB, AuthOutputOOB, AuthInputOOB:
		if len(value) != AuthValueSize {
			return v, ErrInvalidAuthValue
		}
		copy(v[:], value)
	default:
		return v, fmt.Errorf("%w: auth method %d", ErrUnsupported, method)
	}
	return v, nil
}

// Start returns the Invite.
func (p *ProvisionerSession) Start() (*Invite, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect(StateInit); err != nil {
		return nil, err
	}
	p.invite = &Invite{AttentionDuration: p.config.AttentionDuration}
	p.setState(StateWaitingCapabilities)
	return p.invite, nil
}

// HandleCapabilities selects the algorithm and authentication and returns
// the Start and PublicKey PDUs, in that order.
func (p *ProvisionerSession) HandleCapabilities(caps *Capabilities) ([]PDU, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect(StateWaitingCapabilities); err != nil {
		return nil, err
	}
	if caps.NumElements == 0 {
		return nil, p.fail(fmt.Errorf("%w: zero elements", ErrInvalidPdu))
	}
	if caps.Algorithms&algorithmsBitP256 == 0 {
		return nil, p.fail(fmt.Errorf("%w: algorithms %#x", ErrUnsupported, caps.Algorithms))
	}
	switch p.config.AuthMethod {
	case AuthStaticOOB:
		if caps.StaticOOBType == 0 {
			return nil, p.fail(fmt.Errorf("%w: device has no static OOB", ErrUnsupported))
		}
	case AuthOutputOOB:
		if caps.OutputOOBSize == 0 {
			return nil, p.fail(fmt.Errorf("%w: device has no output OOB", ErrUnsupported))
		}
	case AuthInputOOB:
		if caps.InputOOBSize == 0 {
			return nil, p.fail(fmt.Errorf("%w: device has no input OOB", ErrUnsupported))
		}
	}

	p.caps = caps
	p.start = &Start{
		Algorithm:  AlgorithmP256CMAC,
		PublicKey:  PublicKeyNoOOB,
		AuthMethod: p.config.AuthMethod,
	}
	if p.config.AuthMethod == AuthOutputOOB || p.config.AuthMethod == AuthInputOOB {
		p.start.AuthAction = p.config.AuthAction
		p.start.AuthSize = p.config.AuthSize
	}
	pk := &PublicKey{}
	copy(pk.Key[:], p.keyPair.PublicKey())
	p.setState(StateWaitingPublicKey)
	return []PDU{p.start, pk}, nil
}

// HandlePublicKey computes the shared secret and returns the provisioner
// Confirmation.
func (p *ProvisionerSession) HandlePublicKey(pk *PublicKey) (*Confirmation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect(StateWaitingPublicKey); err != nil {
		return nil, err
	}
	if err := p.computeSecret(p.keyPair.PublicKey(), pk.Key[:]); err != nil {
		return nil, p.fail(err)
	}
	conf, err := p.localConfirmation()
	if err != nil {
		return nil, p.fail(err)
	}
	p.setState(StateWaitingConfirmation)
	return conf, nil
}

// HandleConfirmation stores the device confirmation and reveals the
// provisioner random.
func (p *ProvisionerSession) HandleConfirmation(conf *Confirmation) (*Random, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect(StateWaitingConfirmation); err != nil {
		return nil, err
	}
	p.peerConf = conf.Value
	p.setState(StateWaitingRandom)
	return &Random{Value: p.localRandom}, nil
}

// HandleRandom verifies the device confirmation and returns the encrypted
// provisioning data. A mismatch fails the session.
func (p *ProvisionerSession) HandleRandom(r *Random) (*Data, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect(StateWaitingRandom); err != nil {
		return nil, err
	}
	if err := p.checkPeerRandom(r.Value); err != nil {
		return nil, p.fail(err)
	}
	sk, err := DeriveSessionKeys(p.confKeys.Salt, p.localRandom, r.Value, p.secret)
	if err != nil {
		return nil, p.fail(err)
	}
	p.sessionKeys = sk
	data, err := EncryptData(sk, &p.config.Data)
	if err != nil {
		return nil, p.fail(err)
	}
	p.setState(StateWaitingComplete)
	return data, nil
}

// HandleComplete finishes provisioning.
func (p *ProvisionerSession) HandleComplete(*Complete) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect(StateWaitingComplete); err != nil {
		return err
	}
	p.setState(StateComplete)
	return nil
}

// Receive decodes one PDU from the device and returns the PDUs to send in
// reply. Local failures produce a Failed PDU, which is returned together
// with the error.
func (p *ProvisionerSession) Receive(data []byte) ([][]byte, error) {
	pdu, err := Decode(data)
	if err != nil {
		return p.abort(err)
	}
	var out []PDU
	switch v := pdu.(type) {
	case *Capabilities:
		out, err = p.HandleCapabilities(v)
	case *PublicKey:
		var c *Confirmation
		if c, err = p.HandlePublicKey(v); err == nil {
			out = []PDU{c}
		}
	case *Confirmation:
		var r *Random
		if r, err = p.HandleConfirmation(v); err == nil {
			out = []PDU{r}
		}
	case *Random:
		var d *Data
		if d, err = p.HandleRandom(v); err == nil {
			out = []PDU{d}
		}
	case *Complete:
		err = p.HandleComplete(v)
	case *Failed:
		return nil, p.peerFailed(v)
	default:
		err = fmt.Errorf("%w: %s", ErrInvalidState, pdu.Type())
	}
	if err != nil {
		return p.abort(err)
	}
	return encodeAll(out), nil
}

// DeviceKey returns the device key once the random exchange succeeded.
func (p *ProvisionerSession) DeviceKey() (keys.DeviceKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateWaitingComplete && p.state != StateComplete {
		return keys.DeviceKey{}, false
	}
	return p.sessionKeys.DeviceKey, true
}

// DeviceConfig configures a DeviceSession.
type DeviceConfig struct {
	// Capabilities are advertised in reply to the Invite. Algorithms
	// defaults to P-256 and NumElements to 1.
	Capabilities Capabilities

	// AuthValue is the static OOB value or the OOB number displayed or
	// entered. Required when the provisioner picks an OOB method.
	AuthValue []byte

	// KeyPair is the ephemeral ECDH key pair. Generated if nil.
	KeyPair *crypto.P256KeyPair

	// Rand supplies the confirmation random. crypto/rand if nil.
	Rand io.Reader

	// LoggerFactory is used to create loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DeviceSession is the unprovisioned device side of provisioning.
//
// Thread-safe for concurrent access.
type DeviceSession struct {
	*session
	config DeviceConfig
	data   *ProvisioningData
}

// NewDeviceSession creates a device session.
func NewDeviceSession(config DeviceConfig) (*DeviceSession, error) {
	if config.AuthValue != nil && len(config.AuthValue) != AuthValueSize {
		return nil, ErrInvalidAuthValue
	}
	if config.Capabilities.Algorithms == 0 {
		config.Capabilities.Algorithms = algorithmsBitP256
	}
	if config.Capabilities.NumElements == 0 {
		config.Capabilities.NumElements = 1
	}
	s, err := newSession(RoleDevice, config.KeyPair, config.Rand, config.LoggerFactory)
	if err != nil {
		return nil, err
	}
	return &DeviceSession{session: s, config: config}, nil
}

// HandleInvite returns the device Capabilities.
func (d *DeviceSession) HandleInvite(inv *Invite) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.expect(StateInit); err != nil {
		return nil, err
	}
	d.invite = inv
	caps := d.config.Capabilities
	d.caps = &caps
	d.setState(StateWaitingStart)
	return d.caps, nil
}

// HandleStart validates the provisioner's choices.
func (d *DeviceSession) HandleStart(st *Start) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.expect(StateWaitingStart); err != nil {
		return err
	}
	if st.Algorithm != AlgorithmP256CMAC || st.PublicKey != PublicKeyNoOOB {
		return d.fail(fmt.Errorf("%w: algorithm %d public key %d", ErrUnsupported, st.Algorithm, st.PublicKey))
	}
	switch st.AuthMethod {
	case AuthNoOOB:
		if st.AuthAction != 0 || st.AuthSize != 0 {
			return d.fail(fmt.Errorf("%w: no-OOB with action", ErrInvalidPdu))
		}
	case AuthStaticOOB, AuthOutputOOB, AuthInputOOB:
		if len(d.config.AuthValue) != AuthValueSize {
			return d.fail(fmt.Errorf("%w: auth method %d without value", ErrUnsupported, st.AuthMethod))
		}
		copy(d.authValue[:], d.config.AuthValue)
	default:
		return d.fail(fmt.Errorf("%w: auth method %d", ErrInvalidPdu, st.AuthMethod))
	}
	d.start = st
	d.setState(StateWaitingPublicKey)
	return nil
}

// HandlePublicKey computes the shared secret and returns the device
// public key.
func (d *DeviceSession) HandlePublicKey(pk *PublicKey) (*PublicKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.expect(StateWaitingPublicKey); err != nil {
		return nil, err
	}
	if err := d.computeSecret(pk.Key[:], d.keyPair.PublicKey()); err != nil {
		return nil, d.fail(err)
	}
	out := &PublicKey{}
	copy(out.Key[:], d.keyPair.PublicKey())
	d.setState(StateWaitingConfirmation)
	return out, nil
}

// HandleConfirmation stores the provisioner confirmation and returns the
// device confirmation.
func (d *DeviceSession) HandleConfirmation(conf *Confirmation) (*Confirmation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.expect(StateWaitingConfirmation); err != nil {
		return nil, err
	}
	d.peerConf = conf.Value
	out, err := d.localConfirmation()
	if err != nil {
		return nil, d.fail(err)
	}
	d.setState(StateWaitingRandom)
	return out, nil
}

// HandleRandom verifies the provisioner confirmation and reveals the
// device random. A mismatch fails the session.
func (d *DeviceSession) HandleRandom(r *Random) (*Random, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.expect(StateWaitingRandom); err != nil {
		return nil, err
	}
	if err := d.checkPeerRandom(r.Value); err != nil {
		return nil, d.fail(err)
	}
	sk, err := DeriveSessionKeys(d.confKeys.Salt, r.Value, d.localRandom, d.secret)
	if err != nil {
		return nil, d.fail(err)
	}
	d.sessionKeys = sk
	d.setState(StateWaitingData)
	return &Random{Value: d.localRandom}, nil
}

// HandleData decrypts the provisioning data.
func (d *DeviceSession) HandleData(data *Data) (*Complete, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.expect(StateWaitingData); err != nil {
		return nil, err
	}
	pd, err := DecryptData(d.sessionKeys, data)
	if err != nil {
		return nil, d.fail(err)
	}
	d.data = pd
	d.setState(StateComplete)
	return &Complete{}, nil
}

// Receive decodes one PDU from the provisioner and returns the PDUs to
// send in reply. Local failures produce a Failed PDU, which is returned
// together with the error.
func (d *DeviceSession) Receive(data []byte) ([][]byte, error) {
	pdu, err := Decode(data)
	if err != nil {
		return d.abort(err)
	}
	var out []PDU
	switch v := pdu.(type) {
	case *Invite:
		var c *Capabilities
		if c, err = d.HandleInvite(v); err == nil {
			out = []PDU{c}
		}
	case *Start:
		err = d.HandleStart(v)
	case *PublicKey:
		var k *PublicKey
		if k, err = d.HandlePublicKey(v); err == nil {
			out = []PDU{k}
		}
	case *Confirmation:
		var c *Confirmation
		if c, err = d.HandleConfirmation(v); err == nil {
			out = []PDU{c}
		}
	case *Random:
		var r *Random
		if r, err = d.HandleRandom(v); err == nil {
			out = []PDU{r}
		}
	case *Data:
		var c *Complete
		if c, err = d.HandleData(v); err == nil {
			out = []PDU{c}
		}
	case *Failed:
		return nil, d.peerFailed(v)
	default:
		err = fmt.Errorf("%w: %s", ErrInvalidState, pdu.Type())
	}
	if err != nil {
		return d.abort(err)
	}
	return encodeAll(out), nil
}

// Data returns the received provisioning data once complete.
func (d *DeviceSession) Data() (*ProvisioningData, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data, d.state == StateComplete
}

// DeviceKey returns the device key once complete.
func (d *DeviceSession) DeviceKey() (keys.DeviceKey, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateComplete {
		return keys.DeviceKey{}, false
	}
	return d.sessionKeys.DeviceKey, true
}

// abort fails the session and returns the Failed PDU for the peer.
func (s *session) abort(err error) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailed {
		s.fail(err)
	}
	return [][]byte{Encode(&Failed{Code: s.failure})}, err
}

func (s *session) peerFailed(f *Failed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.failure = f.Code
	if s.log != nil {
		s.log.Warnf("%s: peer failed provisioning: %s", s.role, f.Code)
	}
	return fmt.Errorf("%w: %s", ErrPeerFailed, f.Code)
}

func encodeAll(pdus []PDU) [][]byte {
	out := make([][]byte, 0, len(pdus))
	for _, p := range pdus {
		out = append(out, Encode(p))
	}
	return out
}
