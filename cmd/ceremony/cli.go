package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	kzg_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/kzg"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/urfave/cli/v2"

	"github.com/giuliop/ceremony"
	"github.com/giuliop/ceremony/artifact"
	"github.com/giuliop/ceremony/attest"
	"github.com/giuliop/ceremony/config"
	"github.com/giuliop/ceremony/journal"
	"github.com/giuliop/ceremony/log"
	"github.com/giuliop/ceremony/server"
	"github.com/giuliop/ceremony/setup"
	"github.com/giuliop/ceremony/store"
)

// output of the operational commands, logs go to stderr.
var output io.Writer = os.Stdout

// Automatically set through -ldflags
var (
	version   = "master"
	gitCommit = "none"
)

// newEngine builds the cryptography engine of the commands.
var newEngine = func(l log.Logger) ceremony.Engine {
	return setup.NewEngine(l)
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "TOML configuration file",
	EnvVars: []string{"CEREMONY_CONFIG"},
}

var dirFlag = &cli.StringFlag{
	Name:  "dir",
	Usage: "Folder of the file store, overrides the configuration",
}

var idFlag = &cli.StringFlag{
	Name:  "id",
	Value: "ceremony",
	Usage: "Name of the ceremony",
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "If set, verbosity is at the debug level",
}

var jsonLogsFlag = &cli.BoolFlag{
	Name:  "json-logs",
	Usage: "Log in JSON",
}

var sizeFlag = &cli.IntFlag{
	Name:     "size",
	Usage:    "Log2 of the number of powers of the accumulator",
	Required: true,
}

var contributionsFlag = &cli.IntFlag{
	Name:  "contributions",
	Usage: "Number of contributions the host makes right after creation",
}

var tagFlag = &cli.StringFlag{
	Name:  "tag",
	Value: "host",
	Usage: "Public label of the contribution",
}

var circuitFlag = &cli.StringFlag{
	Name:  "circuit",
	Usage: "Circuit file",
}

var ptauFlag = &cli.StringFlag{
	Name:     "ptau",
	Usage:    "Final accumulator",
	Required: true,
}

var variantFlag = &cli.StringFlag{
	Name:  "variant",
	Value: artifact.Groth16.String(),
	Usage: "Proving system of the circuit key",
}

var priorFlag = &cli.StringFlag{
	Name:  "prior",
	Usage: "Hash of the artifact the contribution was computed on",
}

var outFlag = &cli.StringFlag{
	Name:  "out",
	Usage: "Output file",
}

var mnemonicFlag = &cli.StringFlag{
	Name:    "mnemonic",
	Usage:   "Algorand mnemonic signing the response",
	EnvVars: []string{"CEREMONY_MNEMONIC"},
}

var serverFlag = &cli.StringFlag{
	Name:  "server",
	Usage: "URL of a ceremony server to fetch the challenge from and upload the response to",
}

var tokenFlag = &cli.StringFlag{
	Name:    "token",
	Usage:   "Operator token of the ceremony server, overrides the configuration when serving",
	EnvVars: []string{"CEREMONY_TOKEN"},
}

var listenFlag = &cli.StringFlag{
	Name:  "listen",
	Usage: "host:port to bind the server, overrides the configuration",
}

var accessLogFlag = &cli.StringFlag{
	Name:  "access-log",
	Usage: "File to log http accesses to",
}

var snarkjsFlag = &cli.BoolFlag{
	Name:  "snarkjs",
	Usage: "The --ptau file is a snarkjs .ptau",
}

// CLI runs the ceremony command line.
func CLI() *cli.App {
	app := cli.NewApp()
	app.Name = "ceremony"
	app.Usage = "trusted setup ceremony coordinator"
	app.Version = fmt.Sprintf("%s (commit %s)", version, gitCommit)
	app.Flags = []cli.Flag{configFlag, dirFlag, idFlag, verboseFlag, jsonLogsFlag}
	app.Commands = []*cli.Command{
		{
			Name:   "init-accumulator",
			Usage:  "Create the empty accumulator of a Powers of Tau ceremony",
			Flags:  []cli.Flag{sizeFlag, contributionsFlag, tagFlag},
			Action: initAccumulatorCmd,
		},
		{
			Name:   "setup-zkey",
			Usage:  "Create the initial key of a circuit from a final accumulator",
			Flags:  []cli.Flag{withRequired(circuitFlag), ptauFlag, variantFlag},
			Action: setupKeyCmd,
		},
		{
			Name:   "contribute",
			Usage:  "Contribute with randomness of this host",
			Flags:  []cli.Flag{tagFlag},
			Action: contributeCmd,
		},
		{
			Name:      "accept",
			Usage:     "Accept an artifact uploaded by a contributor",
			ArgsUsage: "<candidate file>",
			Flags:     []cli.Flag{priorFlag},
			Action:    acceptCmd,
		},
		{
			Name:   "export-challenge",
			Usage:  "Issue a challenge for an offline contributor",
			Flags:  []cli.Flag{outFlag},
			Action: exportChallengeCmd,
		},
		{
			Name:      "contribute-challenge",
			Usage:     "Answer a challenge, on the contributor machine",
			ArgsUsage: "[challenge file]",
			Flags:     []cli.Flag{outFlag, tagFlag, mnemonicFlag, serverFlag, tokenFlag},
			Action:    contributeChallengeCmd,
		},
		{
			Name:      "import-response",
			Usage:     "Import the response to the outstanding challenge",
			ArgsUsage: "<response file>",
			Flags:     []cli.Flag{priorFlag},
			Action:    importResponseCmd,
		},
		{
			Name:   "close",
			Usage:  "Stop accepting contributions",
			Action: closeCmd,
		},
		{
			Name:   "finalize",
			Usage:  "Apply the beacon and derive the final parameters",
			Flags:  []cli.Flag{circuitFlag},
			Action: finalizeCmd,
		},
		{
			Name:   "discard-beacon",
			Usage:  "Drop an applied beacon so finalization can start again",
			Action: discardBeaconCmd,
		},
		{
			Name:      "verify",
			Usage:     "Verify an artifact and its whole history",
			ArgsUsage: "<artifact>",
			Action:    verifyCmd,
		},
		{
			Name:   "status",
			Usage:  "Print the ceremony state",
			Action: statusCmd,
		},
		{
			Name:   "list",
			Usage:  "List the journaled ceremonies",
			Action: listCmd,
		},
		{
			Name:   "serve",
			Usage:  "Serve the challenge/response protocol over HTTP",
			Flags:  []cli.Flag{listenFlag, accessLogFlag, tokenFlag},
			Action: serveCmd,
		},
		{
			Name:   "plonk-setup",
			Usage:  "Derive Plonk keys and verifier of a circuit from a final accumulator",
			Flags:  []cli.Flag{withRequired(circuitFlag), ptauFlag, snarkjsFlag, outFlag},
			Action: plonkSetupCmd,
		},
	}
	return app
}

func withRequired(f *cli.StringFlag) *cli.StringFlag {
	r := *f
	r.Required = true
	return &r
}

// env is what the coordinator commands run with.
type env struct {
	cfg     *config.Config
	log     log.Logger
	store   store.Store
	journal *journal.Journal
	engine  ceremony.Engine
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if c.IsSet(configFlag.Name) {
		var err error
		if cfg, err = config.Load(c.String(configFlag.Name)); err != nil {
			return nil, err
		}
	}
	if c.IsSet(dirFlag.Name) {
		cfg.Store.Backend = config.FileBackend
		cfg.Store.Dir = c.String(dirFlag.Name)
	}
	if c.Bool(verboseFlag.Name) {
		cfg.Log.Level = "debug"
	}
	if c.Bool(jsonLogsFlag.Name) {
		cfg.Log.JSON = true
	}
	return cfg, cfg.Validate()
}

func openEnv(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	l, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	st, err := cfg.OpenStore(l)
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(c.Context, l, cfg.JournalDir(), nil)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: l, store: st, journal: j, engine: newEngine(l)}, nil
}

func (e *env) Close() {
	if err := e.journal.Close(); err != nil {
		e.log.Warnw("error closing journal", "err", err)
	}
}

// coordinator resumes the journaled ceremony id, or starts a new one when
// create is set.
func (e *env) coordinator(ctx context.Context, id string, create bool) (*ceremony.Coordinator, error) {
	opts, err := e.cfg.Options(e.log)
	if err != nil {
		return nil, err
	}
	opts = append(opts, ceremony.WithJournal(e.journal))

	s, err := e.journal.Load(ctx, id)
	switch {
	case errors.Is(err, journal.ErrUnknown) && create:
		return ceremony.New(id, e.engine, e.store, opts...), nil
	case errors.Is(err, journal.ErrUnknown):
		return nil, fmt.Errorf("unknown ceremony %s, create it with init-accumulator or setup-zkey", id)
	case err != nil:
		return nil, err
	}
	return ceremony.Resume(s, e.engine, e.store, opts...)
}

// run opens the environment and the ceremony of the --id flag.
func run(create bool, f func(*cli.Context, *env, *ceremony.Coordinator) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := openEnv(c)
		if err != nil {
			return err
		}
		defer e.Close()
		coord, err := e.coordinator(c.Context, c.String(idFlag.Name), create)
		if err != nil {
			return err
		}
		return f(c, e, coord)
	}
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(output, string(b))
	return err
}

func printContribution(r ceremony.Contribution) {
	fmt.Fprintf(output, "contribution #%d by %s accepted: %s %s\n",
		r.Sequence, r.Tag, r.Artifact.Name, r.Artifact.Hash)
}

func parsePrior(c *cli.Context) (artifact.Hash, error) {
	if !c.IsSet(priorFlag.Name) {
		return artifact.Hash{}, nil
	}
	return artifact.ParseHash(c.String(priorFlag.Name))
}

func argFile(c *cli.Context, what string) ([]byte, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected the %s file as argument", what)
	}
	return os.ReadFile(c.Args().First())
}

var initAccumulatorCmd = run(true, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	ref, err := coord.InitAccumulator(c.Context, c.Int(sizeFlag.Name))
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "created %s %s\n", ref.Name, ref.Hash)
	for i := 0; i < c.Int(contributionsFlag.Name); i++ {
		r, err := coord.Contribute(c.Context, fmt.Sprintf("%s-%d", c.String(tagFlag.Name), i+1))
		if err != nil {
			return err
		}
		printContribution(r)
	}
	return nil
})

var setupKeyCmd = run(true, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	variant, err := artifact.ParseVariant(c.String(variantFlag.Name))
	if err != nil {
		return err
	}
	ref, err := coord.InitKey(c.Context, c.String(circuitFlag.Name), c.String(ptauFlag.Name), variant)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "created %s %s\n", ref.Name, ref.Hash)
	return nil
})

var contributeCmd = run(false, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	r, err := coord.Contribute(c.Context, c.String(tagFlag.Name))
	if err != nil {
		return err
	}
	printContribution(r)
	return nil
})

var acceptCmd = run(false, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	candidate, err := argFile(c, "candidate")
	if err != nil {
		return err
	}
	prior, err := parsePrior(c)
	if err != nil {
		return err
	}
	r, err := coord.AcceptContribution(c.Context, candidate, prior)
	if err != nil {
		return err
	}
	printContribution(r)
	return nil
})

var exportChallengeCmd = run(false, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	ch, err := coord.IssueChallenge(c.Context)
	if err != nil {
		return err
	}
	if out := c.String(outFlag.Name); out != "" {
		if err := os.WriteFile(out, ch.Data, 0644); err != nil {
			return err
		}
	}
	fmt.Fprintf(output, "challenge %s %s\nprior %s\n", ch.Name, ch.Hash, ch.Prior)
	return nil
})

// contributeChallengeCmd runs on the contributor machine: it needs neither
// a store nor a journal.
func contributeChallengeCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l, err := cfg.Logger()
	if err != nil {
		return err
	}
	var signer *attest.Signer
	if words := c.String(mnemonicFlag.Name); words != "" {
		if signer, err = attest.NewSigner(words); err != nil {
			return err
		}
	}
	engine := newEngine(l)
	tag := c.String(tagFlag.Name)

	if url := c.String(serverFlag.Name); url != "" {
		client := server.NewClient(url, nil)
		client.SetToken(c.String(tokenFlag.Name))
		ch, err := client.Challenge(c.Context)
		if err != nil {
			return err
		}
		resp, err := ceremony.ContributeChallenge(c.Context, engine, ch.Data, tag, signer)
		if err != nil {
			return err
		}
		r, err := client.Respond(c.Context, resp, ch.Prior)
		if err != nil {
			return err
		}
		printContribution(*r)
		return nil
	}

	challenge, err := argFile(c, "challenge")
	if err != nil {
		return err
	}
	resp, err := ceremony.ContributeChallenge(c.Context, engine, challenge, tag, signer)
	if err != nil {
		return err
	}
	out := c.String(outFlag.Name)
	if out == "" {
		out = filepath.Join(filepath.Dir(c.Args().First()), cfg.Naming.Response(c.Args().First()))
	}
	if err := os.WriteFile(out, resp, 0644); err != nil {
		return err
	}
	fmt.Fprintf(output, "response written to %s\n", out)
	return nil
}

var importResponseCmd = run(false, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	resp, err := argFile(c, "response")
	if err != nil {
		return err
	}
	prior, err := parsePrior(c)
	if err != nil {
		return err
	}
	r, err := coord.ImportResponse(c.Context, resp, prior)
	if err != nil {
		return err
	}
	printContribution(r)
	return nil
})

var closeCmd = run(false, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	if err := coord.CloseParticipation(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(output, "participation closed after %d contributions\n", coord.State().Count())
	return nil
})

var finalizeCmd = run(false, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	var opts []ceremony.FinalizeOption
	if c.IsSet(circuitFlag.Name) {
		opts = append(opts, ceremony.WithCircuit(c.String(circuitFlag.Name)))
	}
	out, err := coord.Finalize(c.Context, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "finalized %s %s after %d contributions\n", out.Final.Name, out.Final.Hash, out.Count)
	for _, name := range out.Outputs {
		fmt.Fprintf(output, "wrote %s\n", name)
	}
	return nil
})

var discardBeaconCmd = run(false, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	if err := coord.DiscardBeacon(c.Context); err != nil {
		return err
	}
	fmt.Fprintln(output, "beacon discarded")
	return nil
})

// verifyCmd finds the ceremony an artifact belongs to through the journal,
// falling back to the --id ceremony.
func verifyCmd(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected the artifact name as argument")
	}
	name := c.Args().First()
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	id := c.String(idFlag.Name)
	if owner, err := e.journal.Lookup(c.Context, name); err == nil {
		id = owner
	}
	coord, err := e.coordinator(c.Context, id, true)
	if err != nil {
		return err
	}
	report, err := coord.Verify(c.Context, name)
	if err != nil {
		return err
	}
	return printJSON(report)
}

var statusCmd = run(false, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	return printJSON(coord.State())
})

func listCmd(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()
	ids, err := e.journal.List(c.Context)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s, err := e.journal.Load(c.Context, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(output, "%s\t%s\t%s\t%d\n", id, s.Kind, s.Stage, s.Count())
	}
	return nil
}

var serveCmd = run(false, func(c *cli.Context, e *env, coord *ceremony.Coordinator) error {
	addr := e.cfg.Server.Listen
	if c.IsSet(listenFlag.Name) {
		addr = c.String(listenFlag.Name)
	}
	var accessLog io.Writer
	if path := c.String(accessLogFlag.Name); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return fmt.Errorf("failed to open access log: %w", err)
		}
		defer f.Close()
		accessLog = f
	}
	token := e.cfg.Server.Token
	if c.IsSet(tokenFlag.Name) {
		token = c.String(tokenFlag.Name)
	}
	if token == "" {
		e.log.Warnw("serving without an operator token, anyone can issue challenges")
	}
	srv := server.New(coord, e.store, e.log)
	srv.SetToken(token)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	return srv.Serve(ctx, addr, accessLog)
})

func plonkSetupCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l, err := cfg.Logger()
	if err != nil {
		return err
	}
	circuitPath := c.String(circuitFlag.Name)
	data, err := os.ReadFile(circuitPath)
	if err != nil {
		return err
	}
	ccs := plonk.NewCS(ecc.BN254)
	if _, err := ccs.ReadFrom(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("error reading circuit: %v", err)
	}

	srs, err := readSRS(c.String(ptauFlag.Name), c.Bool(snarkjsFlag.Name))
	if err != nil {
		return err
	}
	pk, vk, err := setup.PlonkSetup(ccs, srs)
	if err != nil {
		return err
	}

	dir := c.String(outFlag.Name)
	if dir == "" {
		dir = filepath.Dir(circuitPath)
	}
	stem := artifact.Stem(circuitPath)
	for ext, w := range map[string]io.WriterTo{".plonk.pk": pk, ".plonk.vk": vk} {
		var buf bytes.Buffer
		if _, err := w.WriteTo(&buf); err != nil {
			return err
		}
		path := filepath.Join(dir, stem+ext)
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return err
		}
		fmt.Fprintf(output, "wrote %s\n", path)
	}
	export, err := setup.Export(vk)
	if err != nil {
		return err
	}
	for name, data := range map[string][]byte{
		artifact.VerificationKeyName: export.VerificationKey,
		artifact.VerifierName:        export.Verifier,
	} {
		path := filepath.Join(dir, stem+"_"+name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(output, "wrote %s\n", path)
	}
	l.Infow("plonk setup", "circuit", circuitPath, "constraints", ccs.GetNbConstraints(), "powers", setup.PlonkSize(ccs))
	return nil
}

// readSRS reads the KZG SRS of a final ceremony accumulator or of a
// snarkjs .ptau file.
func readSRS(path string, snarkjs bool) (*kzg_bn254.SRS, error) {
	if snarkjs {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return setup.ImportSnarkjsPTau(f)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := artifact.Decode(data)
	if err != nil {
		return nil, err
	}
	if a.Kind != artifact.PTau || a.Seal != artifact.Final {
		return nil, fmt.Errorf("%s is not a final accumulator", path)
	}
	return setup.AccumulatorSRS(a.Payload)
}
