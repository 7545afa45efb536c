package cli

import (
	"bytes"
	"time"

	"github.com/alecthomas/kong"
	"github.com/effective-security/x/ctl"
	"github.com/stretchr/testify/suite"
)

type testSuite struct {
	suite.Suite

	ctl *Cli
	// Out is the outpub buffer
	Out bytes.Buffer
	// Err is the error output buffer
	Err bytes.Buffer
}

var testTime = time.Date(2026, time.October, 15, 9, 5, 7, 0, time.Local)

func (s *testSuite) SetupTest() {
	s.parse("--device=soft:")
}

// parse resets the output and the Cli with the flags
func (s *testSuite) parse(args ...string) {
	s.Out.Reset()
	s.Err.Reset()

	s.ctl = &Cli{}
	s.ctl.WithErrWriter(&s.Err).
		WithWriter(&s.Out).
		WithClock(func() time.Time { return testTime })

	parser, err := kong.New(s.ctl,
		kong.Name("cryptodev-tool"),
		kong.Description("CLI tool for hashing sessions on crypto devices"),
		kong.Writers(&s.Out, &s.Err),
		ctl.BoolPtrMapper,
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{})
	if err != nil {
		s.FailNow("unexpected error constructing Kong: %+v", err)
	}

	_, err = parser.Parse(args)
	if err != nil {
		s.FailNow("unexpected error parsing: %+v", err)
	}
}

// HasText is a helper method to assert that the out stream contains the supplied
// text somewhere
func (s *testSuite) HasText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.Contains(outStr, t)
	}
}

// HasNoText is a helper method to assert that the out stream does not contain the supplied
// text anywhere
func (s *testSuite) HasNoText(texts ...string) {
	outStr := s.Out.String()
	for _, t := range texts {
		s.NotContains(outStr, t)
	}
}
