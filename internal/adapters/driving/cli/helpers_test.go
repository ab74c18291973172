package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/democracy-chain/dcindex/internal/adapters/driven/storage/local"
	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/core/ports/driving"
	"github.com/democracy-chain/dcindex/internal/logger"
)

// testEnv holds the fakes behind one command run.
type testEnv struct {
	settings  *domain.AppSettings
	settingsS *fakeSettingsService
	backend   *fakeBackend
	lastOpts  SettingsOptions
}

// setupTestServices wires the CLI to in-memory fakes.
func setupTestServices(t *testing.T) *testEnv {
	t.Helper()

	s := domain.DefaultAppSettings()
	env := &testEnv{settings: &s}
	env.settingsS = &fakeSettingsService{settings: env.settings}
	env.backend = &fakeBackend{
		ingestion: &fakeIngestion{},
		grounding: &fakeGrounding{},
		publisher: &fakePublisher{},
		consumer:  &fakeConsumer{},
		index:     &fakeIndex{collections: map[string]*domain.CollectionInfo{}},
		ledger:    &fakeLedger{},
		files:     local.NewFileStore(t.TempDir()),
	}

	previous := wiring
	SetWiring(Wiring{
		Settings: func(opts SettingsOptions) (driving.SettingsService, error) {
			env.lastOpts = opts
			return env.settingsS, nil
		},
		Backend: func(*domain.AppSettings) (Backend, error) {
			return env.backend, nil
		},
	})
	logger.SetOutput(io.Discard)

	t.Cleanup(func() {
		wiring = previous
		settingsService, currentSettings, backend = nil, nil, nil
		logger.SetOutput(io.Discard)
		logger.SetLevel(logger.LevelInfo)
	})
	return env
}

// execute runs the root command with fresh flag values.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, "", args...)
}

func executeWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			var def []string
			if d := strings.Trim(f.DefValue, "[]"); d != "" {
				def = strings.Split(d, ",")
			}
			_ = sv.Replace(def)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

type fakeSettingsService struct {
	settings    *domain.AppSettings
	saved       *domain.AppSettings
	validateErr error
	embedErr    error
	llmErr      error
}

func (f *fakeSettingsService) Get() (*domain.AppSettings, error) {
	s := *f.settings
	return &s, nil
}

func (f *fakeSettingsService) Save(s *domain.AppSettings) error {
	f.saved = s
	return nil
}

func (f *fakeSettingsService) Validate() error                 { return f.validateErr }
func (f *fakeSettingsService) GetDefaults() domain.AppSettings { return domain.DefaultAppSettings() }
func (f *fakeSettingsService) ValidateEmbeddingConfig() error  { return f.embedErr }
func (f *fakeSettingsService) ValidateLLMConfig() error        { return f.llmErr }

type fakeBackend struct {
	ingestion *fakeIngestion
	grounding *fakeGrounding
	publisher *fakePublisher
	consumer  *fakeConsumer
	index     *fakeIndex
	ledger    *fakeLedger
	files     *local.FileStore

	noLedger    bool
	consumerErr error
	closed      int
}

func (b *fakeBackend) Ingestion(context.Context) (driving.IngestionService, error) {
	return b.ingestion, nil
}

func (b *fakeBackend) Grounding(context.Context) (driving.GroundingService, error) {
	return b.grounding, nil
}

func (b *fakeBackend) Consumer(context.Context) (driving.ConsumerService, error) {
	if b.consumerErr != nil {
		return nil, b.consumerErr
	}
	return b.consumer, nil
}

func (b *fakeBackend) Publisher() driving.PublisherService { return b.publisher }

func (b *fakeBackend) Index() (driven.VectorIndex, error) { return b.index, nil }

func (b *fakeBackend) Ledger() (driven.IngestionLedger, error) {
	if b.noLedger {
		return nil, nil
	}
	return b.ledger, nil
}

func (b *fakeBackend) FileStore() *local.FileStore { return b.files }

func (b *fakeBackend) Close() error {
	b.closed++
	return nil
}

// fakeIngestion succeeds with three chunks per add unless the name is in fail.
type fakeIngestion struct {
	events []domain.IngestEvent
	fail   map[string]error
}

func (f *fakeIngestion) HandleEvent(ctx context.Context, event domain.IngestEvent) domain.BatchResult {
	f.events = append(f.events, event)
	var result domain.BatchResult
	for _, fd := range event.Add {
		result.Outcomes = append(result.Outcomes, f.IngestFile(ctx, fd))
	}
	for _, ref := range event.Remove {
		result.Outcomes = append(result.Outcomes, f.RemoveFile(ctx, ref))
	}
	return result
}

func (f *fakeIngestion) IngestFile(_ context.Context, fd domain.FileDescriptor) domain.ItemOutcome {
	o := domain.ItemOutcome{Action: domain.ActionAdd, Ref: fd.Ref(), Chunks: 3}
	if err := f.fail[fd.Name]; err != nil {
		o.Chunks, o.Err = 0, err
	}
	return o
}

func (f *fakeIngestion) RemoveFile(_ context.Context, ref domain.FileRef) domain.ItemOutcome {
	return domain.ItemOutcome{Action: domain.ActionRemove, Ref: ref, Deleted: 2, Err: f.fail[ref.SourceName]}
}

type fakeGrounding struct {
	answer *domain.Answer
	group  *domain.RetrievalGroup
	err    error

	lastQuery string
	lastTopK  int
}

func (f *fakeGrounding) Retrieve(_ context.Context, query string, topK int) (*domain.RetrievalGroup, error) {
	f.lastQuery, f.lastTopK = query, topK
	if f.err != nil {
		return nil, f.err
	}
	if f.group == nil {
		return domain.NewRetrievalGroup(), nil
	}
	return f.group, nil
}

func (f *fakeGrounding) ComposePrompt(string, *domain.RetrievalGroup, int) (string, error) {
	return "", nil
}

func (f *fakeGrounding) Ask(context.Context, string) (string, error) { return "", nil }

func (f *fakeGrounding) ExtractOwners(reply string) (string, []string) { return reply, []string{} }

func (f *fakeGrounding) Chat(_ context.Context, query string, topK int) (*domain.Answer, error) {
	f.lastQuery, f.lastTopK = query, topK
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type fakePublisher struct {
	events []domain.IngestEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, event domain.IngestEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakeConsumer struct {
	runs int
	err  error
}

// Run logs its stop line the way services.Consumer does.
func (f *fakeConsumer) Run(context.Context) error {
	f.runs++
	if f.err == nil {
		logger.Info("consumer stopped")
	}
	return f.err
}

type fakeIndex struct {
	collections map[string]*domain.CollectionInfo
	dropped     []string
}

func (f *fakeIndex) EnsureCollection(_ context.Context, name string, dim int) error {
	f.collections[name] = &domain.CollectionInfo{Name: name, Dimension: dim, Distance: domain.DistanceCosine}
	return nil
}

func (f *fakeIndex) Upsert(context.Context, string, []domain.VectorPoint) error { return nil }

func (f *fakeIndex) DeleteWhere(context.Context, string, domain.PointFilter) (int, error) {
	return 0, nil
}

func (f *fakeIndex) Search(context.Context, string, []float32, int) ([]domain.ScoredPayload, error) {
	return nil, nil
}

func (f *fakeIndex) Count(context.Context, string, domain.PointFilter) (int, error) { return 0, nil }

func (f *fakeIndex) Info(_ context.Context, name string) (*domain.CollectionInfo, error) {
	info, ok := f.collections[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return info, nil
}

func (f *fakeIndex) DropCollection(_ context.Context, name string) error {
	f.dropped = append(f.dropped, name)
	delete(f.collections, name)
	return nil
}

func (f *fakeIndex) Close() error { return nil }

type fakeLedger struct {
	entries []domain.LedgerEntry
	lastRef domain.FileRef
}

func (f *fakeLedger) Record(_ context.Context, e domain.LedgerEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLedger) Recent(_ context.Context, limit int) ([]domain.LedgerEntry, error) {
	if limit > 0 && len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeLedger) ForSource(_ context.Context, ref domain.FileRef) ([]domain.LedgerEntry, error) {
	f.lastRef = ref
	var out []domain.LedgerEntry
	for _, e := range f.entries {
		if e.OwnerID == ref.OwnerID && e.SourceName == ref.SourceName {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLedger) Close() error { return nil }
