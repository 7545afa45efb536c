package cli

import (
	"fmt"

	"github.com/effective-security/xcryptodev/config"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xlog"
)

// AlgorithmInfo describes a supported algorithm
type AlgorithmInfo struct {
	Name       string `json:"name"`
	ID         uint32 `json:"id"`
	Keyed      bool   `json:"keyed"`
	DigestSize int    `json:"digest_size"`
	Available  *bool  `json:"available,omitempty"`
}

// AlgosCmd lists the supported algorithms
type AlgosCmd struct {
	Probe bool `help:"open a session on the device for each algorithm to check availability"`
}

// Run the command
func (a *AlgosCmd) Run(ctx *Cli) (err error) {
	var dev *cryptodev.Device
	if a.Probe {
		var cfg *config.RunConfig
		cfg, err = ctx.RunConfig()
		if err != nil {
			return err
		}
		dev, err = cryptodev.Open(cfg.Device)
		if err != nil {
			return err
		}
		defer closeDevice(dev, &err)
	}

	var list []AlgorithmInfo
	for _, alg := range cryptodev.Algorithms() {
		info := AlgorithmInfo{
			Name:       alg.String(),
			ID:         uint32(alg),
			Keyed:      alg.Keyed(),
			DigestSize: alg.DigestSize(),
		}
		if dev != nil {
			available := probe(dev, alg)
			info.Available = &available
		}
		list = append(list, info)
	}

	if ctx.JSON {
		return ctx.WriteJSON(list)
	}

	out := ctx.Writer()
	for _, info := range list {
		fmt.Fprintf(out, "%-13s id=%-3d keyed=%-5t size=%d", info.Name, info.ID, info.Keyed, info.DigestSize)
		if info.Available != nil {
			fmt.Fprintf(out, " available=%t", *info.Available)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// closeDevice closes the device, and reports the failure in err
// if no other error occurred
func closeDevice(dev *cryptodev.Device, err *error) {
	if cerr := dev.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

func probe(dev *cryptodev.Device, alg cryptodev.Algorithm) bool {
	var key []byte
	if alg.Keyed() {
		key = make([]byte, alg.DigestSize())
	}
	s, err := dev.OpenSession(alg, key)
	if err != nil {
		logger.KV(xlog.DEBUG, "reason", "probe", "alg", alg.String(), "err", err)
		return false
	}
	_ = s.Close()
	return true
}

// SessionInfo is the output of the info command
type SessionInfo struct {
	Device    string `json:"device"`
	Algorithm string `json:"algorithm"`
	Session   uint32 `json:"session"`
	Name      string `json:"name,omitempty"`
	Driver    string `json:"driver,omitempty"`
	Alignmask uint16 `json:"alignmask"`
	Hardware  bool   `json:"hardware"`
}

// InfoCmd prints the session info of the device
type InfoCmd struct {
	Alg string `help:"algorithm name, as listed by algos command"`
	Key string `help:"hex encoded MAC key"`
}

// Run the command
func (a *InfoCmd) Run(ctx *Cli) error {
	cfg, err := ctx.configure(a.Alg, a.Key)
	if err != nil {
		return err
	}
	alg, _ := cfg.HashAlgorithm()
	key, _ := cfg.KeyBytes()

	var res SessionInfo
	err = ctx.WithSession(cfg.Device, alg, key, func(s *cryptodev.Session) error {
		info := s.Info()
		res = SessionInfo{
			Device:    cfg.Device,
			Algorithm: alg.String(),
			Session:   info.ID,
			Name:      info.Name,
			Driver:    info.Driver,
			Alignmask: info.Alignmask,
			Hardware:  info.Hardware,
		}
		return nil
	})
	if err != nil {
		return err
	}

	if ctx.JSON {
		return ctx.WriteJSON(res)
	}

	out := ctx.Writer()
	fmt.Fprintf(out, "Device:     %s\n", res.Device)
	fmt.Fprintf(out, "Algorithm:  %s\n", res.Algorithm)
	fmt.Fprintf(out, "Session:    %d\n", res.Session)
	if res.Name != "" {
		fmt.Fprintf(out, "Name:       %s\n", res.Name)
	}
	if res.Driver != "" {
		fmt.Fprintf(out, "Driver:     %s\n", res.Driver)
	}
	fmt.Fprintf(out, "Alignmask:  0x%x\n", res.Alignmask)
	fmt.Fprintf(out, "Hardware:   %t\n", res.Hardware)
	return nil
}
