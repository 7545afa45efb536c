// Package p11dev provides a crypto facility over a PKCS#11 token.
//
// The facility logs in to the token once, each hashing session is a
// separate PKCS#11 session on the token slot. Digests use C_Digest,
// MACs use C_Sign with a session scoped generic secret key.
package p11dev

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/config"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xlog"
	"github.com/miekg/pkcs11"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev/cryptodev", "p11dev")

// Scheme is the device scheme of the facility, as in "pkcs11:/etc/softhsm.yaml"
const Scheme = "pkcs11"

func init() {
	_ = cryptodev.Register(Scheme, Load)
}

var mechanisms = map[cryptodev.Algorithm]uint{
	cryptodev.MD5:        pkcs11.CKM_MD5,
	cryptodev.SHA1:       pkcs11.CKM_SHA_1,
	cryptodev.RIPEMD160:  pkcs11.CKM_RIPEMD160,
	cryptodev.SHA224:     pkcs11.CKM_SHA224,
	cryptodev.SHA256:     pkcs11.CKM_SHA256,
	cryptodev.SHA384:     pkcs11.CKM_SHA384,
	cryptodev.SHA512:     pkcs11.CKM_SHA512,
	cryptodev.HMACMD5:    pkcs11.CKM_MD5_HMAC,
	cryptodev.HMACSHA1:   pkcs11.CKM_SHA_1_HMAC,
	cryptodev.HMACSHA224: pkcs11.CKM_SHA224_HMAC,
	cryptodev.HMACSHA256: pkcs11.CKM_SHA256_HMAC,
	cryptodev.HMACSHA384: pkcs11.CKM_SHA384_HMAC,
	cryptodev.HMACSHA512: pkcs11.CKM_SHA512_HMAC,
}

// module is the subset of *pkcs11.Ctx used by the facility
type module interface {
	Initialize(opts ...pkcs11.InitializeOption) error
	Finalize() error
	Destroy()
	GetSlotList(tokenPresent bool) ([]uint, error)
	GetSlotInfo(slotID uint) (pkcs11.SlotInfo, error)
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	Login(sh pkcs11.SessionHandle, userType uint, pin string) error
	Logout(sh pkcs11.SessionHandle) error
	CreateObject(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) (pkcs11.ObjectHandle, error)
	DestroyObject(sh pkcs11.SessionHandle, oh pkcs11.ObjectHandle) error
	DigestInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism) error
	Digest(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
	SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
}

// Ensure compiles
var _ module = (*pkcs11.Ctx)(nil)
var _ cryptodev.Facility = (*Facility)(nil)

// SlotTokenInfo describes the token used by the facility
type SlotTokenInfo struct {
	ID           uint
	Description  string
	Label        string
	Manufacturer string
	Model        string
	Serial       string
	Hardware     bool
}

type session struct {
	alg  cryptodev.Algorithm
	sh   pkcs11.SessionHandle
	mech []*pkcs11.Mechanism
	key  pkcs11.ObjectHandle
}

// Facility is the PKCS#11 facility
type Facility struct {
	mod      module
	slot     SlotTokenInfo
	login    pkcs11.SessionHandle
	nextID   uint32
	sessions map[uint32]*session
	closed   bool
}

// Load is the cryptodev.Loader for the facility,
// the location is the path to the token config file.
func Load(location string) (cryptodev.Facility, error) {
	cfg, err := config.LoadTokenConfig(location)
	if err != nil {
		return nil, err
	}
	return Init(cfg)
}

// Init loads the PKCS#11 library and logs in to the configured token
func Init(cfg config.TokenConfig) (*Facility, error) {
	ctx := pkcs11.New(cfg.Path())
	if ctx == nil {
		return nil, errors.Errorf("unable to load PKCS#11 module: %s", cfg.Path())
	}
	f, err := newFacility(ctx, cfg)
	if err != nil {
		ctx.Destroy()
		return nil, err
	}
	return f, nil
}

func newFacility(mod module, cfg config.TokenConfig) (*Facility, error) {
	if err := mod.Initialize(); err != nil && !isError(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		return nil, errors.WithMessagef(err, "initialize: %s", cfg.Path())
	}

	f := &Facility{
		mod:      mod,
		nextID:   1,
		sessions: make(map[uint32]*session),
	}

	err := f.findSlot(cfg.TokenSerial(), cfg.TokenLabel())
	if err == nil {
		err = f.loginToken(cfg.Pin())
	}
	if err != nil {
		_ = mod.Finalize()
		return nil, err
	}

	logger.KV(xlog.INFO,
		"slot", f.slot.ID,
		"label", f.slot.Label,
		"serial", f.slot.Serial,
		"manufacturer", f.slot.Manufacturer,
		"model", f.slot.Model)

	return f, nil
}

func (f *Facility) findSlot(serial, label string) error {
	slots, err := f.mod.GetSlotList(true)
	if err != nil {
		return errors.WithStack(err)
	}

	logger.KV(xlog.TRACE, "slots", len(slots))

	for _, slotID := range slots {
		si, err := f.mod.GetSlotInfo(slotID)
		if err != nil {
			return errors.WithMessagef(err, "GetSlotInfo: %d", slotID)
		}
		ti, err := f.mod.GetTokenInfo(slotID)
		if err != nil {
			logger.KV(xlog.ERROR,
				"reason", "GetTokenInfo",
				"slot", slotID,
				"description", si.SlotDescription,
				"err", err)
			continue
		}
		if (serial != "" && ti.SerialNumber == serial) ||
			(label != "" && ti.Label == label) ||
			(serial == "" && label == "") {
			f.slot = SlotTokenInfo{
				ID:           slotID,
				Description:  strings.TrimSpace(si.SlotDescription),
				Label:        ti.Label,
				Manufacturer: strings.TrimSpace(ti.ManufacturerID),
				Model:        strings.TrimSpace(ti.Model),
				Serial:       ti.SerialNumber,
				Hardware:     si.Flags&pkcs11.CKF_HW_SLOT != 0,
			}
			return nil
		}
	}
	return errors.Errorf("no slot for serial=%q, label=%q", serial, label)
}

func (f *Facility) loginToken(pin string) error {
	sh, err := f.mod.OpenSession(f.slot.ID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return errors.WithMessagef(err, "OpenSession on slot %d", f.slot.ID)
	}
	err = f.mod.Login(sh, pkcs11.CKU_USER, pin)
	if err != nil && !isError(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
		_ = f.mod.CloseSession(sh)
		return errors.WithMessagef(err, "Login on slot %d", f.slot.ID)
	}
	f.login = sh
	return nil
}

// Slot returns the token used by the facility
func (f *Facility) Slot() SlotTokenInfo {
	return f.slot
}

// NewSession implements cryptodev.Facility
func (f *Facility) NewSession(req *cryptodev.SessionRequest) (*cryptodev.SessionInfo, error) {
	if f.closed {
		return nil, errors.New("p11dev: facility is closed")
	}
	mech, ok := mechanisms[req.Algorithm]
	if !ok {
		return nil, errors.Errorf("p11dev: algorithm not supported: %s", req.Algorithm)
	}

	sh, err := f.mod.OpenSession(f.slot.ID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, errors.WithMessagef(err, "OpenSession on slot %d", f.slot.ID)
	}

	s := &session{
		alg:  req.Algorithm,
		sh:   sh,
		mech: []*pkcs11.Mechanism{pkcs11.NewMechanism(mech, nil)},
	}

	if req.Algorithm.Keyed() {
		s.key, err = f.mod.CreateObject(sh, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
			pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_GENERIC_SECRET),
			pkcs11.NewAttribute(pkcs11.CKA_TOKEN, false),
			pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
			pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, req.Key),
		})
		if err != nil {
			_ = f.mod.CloseSession(sh)
			return nil, errors.WithMessagef(err, "CreateObject on slot %d", f.slot.ID)
		}
	}

	id := f.nextID
	f.nextID++
	f.sessions[id] = s

	logger.KV(xlog.TRACE, "session", id, "alg", req.Algorithm.String(), "handle", sh)

	return &cryptodev.SessionInfo{
		ID:       id,
		Name:     req.Algorithm.String(),
		Driver:   strings.TrimSpace(f.slot.Manufacturer + " " + f.slot.Model),
		Hardware: f.slot.Hardware,
	}, nil
}

// Crypt implements cryptodev.Facility
func (f *Facility) Crypt(req *cryptodev.CryptRequest) error {
	s, ok := f.sessions[req.Session]
	if !ok {
		return errors.Errorf("p11dev: unknown session: %d", req.Session)
	}
	size := s.alg.DigestSize()
	if len(req.MAC) < size {
		return errors.Errorf("p11dev: digest buffer too small: %d", len(req.MAC))
	}

	var digest []byte
	var err error
	if s.alg.Keyed() {
		if err = f.mod.SignInit(s.sh, s.mech, s.key); err != nil {
			return errors.WithMessagef(err, "SignInit")
		}
		digest, err = f.mod.Sign(s.sh, req.Src)
	} else {
		if err = f.mod.DigestInit(s.sh, s.mech); err != nil {
			return errors.WithMessagef(err, "DigestInit")
		}
		digest, err = f.mod.Digest(s.sh, req.Src)
	}
	if err != nil {
		return errors.WithStack(err)
	}
	if len(digest) != size {
		return errors.Errorf("p11dev: unexpected digest size: %d", len(digest))
	}
	copy(req.MAC, digest)
	return nil
}

// FreeSession implements cryptodev.Facility
func (f *Facility) FreeSession(id uint32) error {
	s, ok := f.sessions[id]
	if !ok {
		return errors.Errorf("p11dev: unknown session: %d", id)
	}
	delete(f.sessions, id)
	return f.closeSession(s)
}

func (f *Facility) closeSession(s *session) error {
	if s.key != 0 {
		if err := f.mod.DestroyObject(s.sh, s.key); err != nil {
			logger.KV(xlog.WARNING, "reason", "DestroyObject", "err", err)
		}
	}
	if err := f.mod.CloseSession(s.sh); err != nil {
		return errors.WithMessagef(err, "CloseSession")
	}
	return nil
}

// Close implements cryptodev.Facility
func (f *Facility) Close() error {
	if f.closed {
		return errors.New("p11dev: facility is closed")
	}
	f.closed = true

	for id, s := range f.sessions {
		logger.KV(xlog.WARNING, "reason", "leaked_session", "session", id)
		_ = f.closeSession(s)
	}
	f.sessions = make(map[uint32]*session)

	if err := f.mod.Logout(f.login); err != nil {
		logger.KV(xlog.DEBUG, "reason", "Logout", "err", err)
	}
	_ = f.mod.CloseSession(f.login)

	err := f.mod.Finalize()
	f.mod.Destroy()
	if err != nil {
		return errors.WithMessagef(err, "finalize")
	}
	return nil
}

func isError(err error, code uint) bool {
	var perr pkcs11.Error
	return errors.As(err, &perr) && uint(perr) == code
}
