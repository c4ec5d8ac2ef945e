// Package setup drives the post-deployment workflow that authorises the
// delta hedger on an Euler account and seeds the strategy with capital.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"deltavault/chain"
	"deltavault/observability"
	"deltavault/services/vaultgw/models"
)

// Workflow statuses, in order.
const (
	StatusIdle               = "idle"
	StatusProcessing         = "processing"
	StatusOperatorAuthorized = "operator-authorized"
	StatusVaultsEnabled      = "vaults-enabled"
	StatusApproved           = "approved"
	StatusDeposited          = "deposited"
	StatusCompleted          = "completed"
	StatusError              = "error"
)

var (
	// ErrNotDiscovered is returned when the hedger's pool or vaults cannot be
	// resolved on chain.
	ErrNotDiscovered = errors.New("setup: contracts not discovered")
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("setup: run not found")
	// ErrRunActive is returned when a run is already executing.
	ErrRunActive = errors.New("setup: run already in progress")
	// ErrRunCompleted is returned when resuming a finished run.
	ErrRunCompleted = errors.New("setup: run already completed")
	// ErrInvalidRequest wraps malformed start parameters.
	ErrInvalidRequest = errors.New("setup: invalid request")
	// ErrStorage wraps failures persisting or loading runs.
	ErrStorage = errors.New("setup: storage failure")
)

// Executor signs, sends and waits for a transaction. *chain.Transactor
// satisfies it.
type Executor interface {
	Address() common.Address
	Execute(ctx context.Context, req chain.TxRequest) (*gethtypes.Receipt, error)
}

var _ Executor = (*chain.Transactor)(nil)

// Discovery holds the contracts resolved from a DeltaHedger.
type Discovery struct {
	DeltaHedger common.Address `json:"deltaHedger"`
	EulerSwap   common.Address `json:"eulerSwap"`
	Vault0      common.Address `json:"vault0"`
	Vault1      common.Address `json:"vault1"`
	Asset0      common.Address `json:"asset0"`
	Asset1      common.Address `json:"asset1"`
}

// Request starts a run. Amount and EthPrice are decimal USDC amounts; blank
// values fall back to the configured defaults.
type Request struct {
	DeltaHedger string `json:"deltaHedger"`
	Amount      string `json:"amount"`
	EthPrice    string `json:"ethPrice"`
	RequestedBy string `json:"-"`
}

// Config wires a Runner.
type Config struct {
	DB              *gorm.DB
	Caller          chain.Caller
	Executor        Executor
	EVC             common.Address
	DefaultHedger   common.Address
	DefaultAmount   string
	DefaultEthPrice string
	Logger          *slog.Logger
}

// Runner executes and persists setup runs.
type Runner struct {
	db       *gorm.DB
	caller   chain.Caller
	exec     Executor
	evc      common.Address
	hedger   common.Address
	amount   string
	ethPrice string
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
	wg     sync.WaitGroup
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.DB == nil || cfg.Caller == nil || cfg.Executor == nil {
		return nil, fmt.Errorf("setup: db, caller and executor are required")
	}
	if cfg.EVC == (common.Address{}) {
		return nil, fmt.Errorf("setup: evc address required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	amount := strings.TrimSpace(cfg.DefaultAmount)
	if amount == "" {
		amount = "50000"
	}
	price := strings.TrimSpace(cfg.DefaultEthPrice)
	if price == "" {
		price = "3000"
	}
	return &Runner{
		db:       cfg.DB,
		caller:   cfg.Caller,
		exec:     cfg.Executor,
		evc:      cfg.EVC,
		hedger:   cfg.DefaultHedger,
		amount:   amount,
		ethPrice: price,
		logger:   logger,
		now:      time.Now,
		active:   make(map[uuid.UUID]struct{}),
	}, nil
}

// Discover resolves the EulerSwap pool, its vaults and their assets.
func (r *Runner) Discover(ctx context.Context, hedger common.Address) (Discovery, error) {
	out := Discovery{DeltaHedger: hedger}
	swap, err := chain.NewDeltaHedger(hedger, r.caller).EulerSwap(ctx)
	if err != nil {
		return out, fmt.Errorf("%w: eulerSwap: %v", ErrNotDiscovered, err)
	}
	if swap == (common.Address{}) {
		return out, fmt.Errorf("%w: hedger has no pool", ErrNotDiscovered)
	}
	out.EulerSwap = swap
	params, err := chain.NewSwapPool(swap, r.caller).Params(ctx)
	if err != nil {
		return out, fmt.Errorf("%w: getParams: %v", ErrNotDiscovered, err)
	}
	out.Vault0, out.Vault1 = params.Vault0, params.Vault1
	if out.Asset0, err = chain.NewEulerVault(out.Vault0, r.caller).Asset(ctx); err != nil {
		return out, fmt.Errorf("%w: vault0 asset: %v", ErrNotDiscovered, err)
	}
	if out.Asset1, err = chain.NewEulerVault(out.Vault1, r.caller).Asset(ctx); err != nil {
		return out, fmt.Errorf("%w: vault1 asset: %v", ErrNotDiscovered, err)
	}
	return out, nil
}

// Start validates req, discovers the contracts, persists a new run and
// executes it in the background. The returned run is in processing state.
func (r *Runner) Start(ctx context.Context, req Request) (*models.SetupRun, error) {
	hedger := r.hedger
	if raw := strings.TrimSpace(req.DeltaHedger); raw != "" {
		parsed, err := chain.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: deltaHedger: %w", ErrInvalidRequest, err)
		}
		hedger = parsed
	}
	if hedger == (common.Address{}) {
		return nil, fmt.Errorf("%w: deltaHedger required", ErrInvalidRequest)
	}
	amount := firstNonEmpty(req.Amount, r.amount)
	price := firstNonEmpty(req.EthPrice, r.ethPrice)
	if _, err := chain.ParseUnits(amount, chain.USDCDecimals); err != nil {
		return nil, fmt.Errorf("%w: amount: %w", ErrInvalidRequest, err)
	}
	if _, err := chain.ParseUnits(price, chain.USDCDecimals); err != nil {
		return nil, fmt.Errorf("%w: ethPrice: %w", ErrInvalidRequest, err)
	}
	found, err := r.Discover(ctx, hedger)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	run := models.SetupRun{
		ID:          uuid.New(),
		Account:     r.exec.Address().Hex(),
		DeltaHedger: hedger.Hex(),
		EulerSwap:   found.EulerSwap.Hex(),
		Vault0:      found.Vault0.Hex(),
		Vault1:      found.Vault1.Hex(),
		Asset0:      found.Asset0.Hex(),
		Asset1:      found.Asset1.Hex(),
		Amount:      amount,
		EthPrice:    price,
		Status:      StatusIdle,
		RequestedBy: req.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, fmt.Errorf("%w: persist run: %w", ErrStorage, err)
	}
	observability.VaultGateway().ObserveSetupStatus(StatusIdle)
	return r.launch(ctx, run)
}

// Resume restarts a failed run after its last completed step.
func (r *Runner) Resume(ctx context.Context, id uuid.UUID) (*models.SetupRun, error) {
	run, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status == StatusCompleted {
		return nil, ErrRunCompleted
	}
	return r.launch(ctx, *run)
}

// Get loads a run.
func (r *Runner) Get(ctx context.Context, id uuid.UUID) (*models.SetupRun, error) {
	var run models.SetupRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load run: %w", ErrStorage, err)
	}
	return &run, nil
}

// Wait blocks until background runs finish.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) launch(ctx context.Context, run models.SetupRun) (*models.SetupRun, error) {
	r.mu.Lock()
	if _, busy := r.active[run.ID]; busy {
		r.mu.Unlock()
		return nil, ErrRunActive
	}
	r.active[run.ID] = struct{}{}
	r.mu.Unlock()

	run.Error = ""
	if err := r.transition(ctx, &run, StatusProcessing); err != nil {
		r.release(run.ID)
		return nil, err
	}
	snapshot := run
	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(run.ID)
		if err := r.execute(bg, &run); err != nil {
			r.logger.Error("setup run failed", "run", run.ID, "step", run.CompletedSteps+1, "error", err)
		}
	}()
	return &snapshot, nil
}

func (r *Runner) release(id uuid.UUID) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

type step struct {
	name  string
	after string
	build func(*plan) (chain.TxRequest, error)
}

type plan struct {
	account  common.Address
	hedger   common.Address
	vault0   common.Address
	vault1   common.Address
	asset0   common.Address
	amount   *big.Int
	ethPrice *big.Int
	evc      *chain.EVC
}

// steps maps each transaction to the status reached once it is mined. An
// empty status leaves the previous one in place.
var steps = []step{
	{"setAccountOperator", StatusOperatorAuthorized, func(p *plan) (chain.TxRequest, error) {
		return p.evc.SetAccountOperatorTx(p.account, p.hedger, true)
	}},
	{"enableCollateral(vault0)", "", func(p *plan) (chain.TxRequest, error) {
		return p.evc.EnableCollateralTx(p.account, p.vault0)
	}},
	{"enableCollateral(vault1)", StatusVaultsEnabled, func(p *plan) (chain.TxRequest, error) {
		return p.evc.EnableCollateralTx(p.account, p.vault1)
	}},
	{"approve", StatusApproved, func(p *plan) (chain.TxRequest, error) {
		return chain.NewToken(p.asset0, nil).ApproveTx(p.vault0, p.amount)
	}},
	{"deposit", StatusDeposited, func(p *plan) (chain.TxRequest, error) {
		return chain.NewEulerVault(p.vault0, nil).DepositTx(p.amount, p.account)
	}},
	{"initializeStrategy", StatusCompleted, func(p *plan) (chain.TxRequest, error) {
		return chain.NewDeltaHedger(p.hedger, nil).InitializeStrategyTx(p.ethPrice)
	}},
}

func (r *Runner) planFor(run *models.SetupRun) (*plan, error) {
	amount, err := chain.ParseUnits(run.Amount, chain.USDCDecimals)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	price, err := chain.ParseUnits(run.EthPrice, chain.USDCDecimals)
	if err != nil {
		return nil, fmt.Errorf("ethPrice: %w", err)
	}
	return &plan{
		account:  common.HexToAddress(run.Account),
		hedger:   common.HexToAddress(run.DeltaHedger),
		vault0:   common.HexToAddress(run.Vault0),
		vault1:   common.HexToAddress(run.Vault1),
		asset0:   common.HexToAddress(run.Asset0),
		amount:   amount,
		ethPrice: price,
		evc:      chain.NewEVC(r.evc, nil),
	}, nil
}

func (r *Runner) execute(ctx context.Context, run *models.SetupRun) error {
	p, err := r.planFor(run)
	if err != nil {
		return r.fail(ctx, run, err)
	}
	for i := run.CompletedSteps; i < len(steps); i++ {
		st := steps[i]
		req, err := st.build(p)
		if err != nil {
			return r.fail(ctx, run, fmt.Errorf("%s: %w", st.name, err))
		}
		receipt, err := r.exec.Execute(ctx, req)
		observability.VaultGateway().ObserveSubmission("setup", err)
		if err != nil {
			return r.fail(ctx, run, fmt.Errorf("%s: %w", st.name, err))
		}
		run.CompletedSteps = i + 1
		run.TxHashes = appendHash(run.TxHashes, receipt.TxHash)
		status := run.Status
		if st.after != "" {
			status = st.after
		}
		if err := r.transition(ctx, run, status); err != nil {
			return err
		}
		r.logger.Info("setup step mined", "run", run.ID, "step", st.name, "tx", receipt.TxHash.Hex())
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, run *models.SetupRun, cause error) error {
	msg := cause.Error()
	if len(msg) > 512 {
		msg = msg[:512]
	}
	run.Error = msg
	if err := r.transition(ctx, run, StatusError); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (r *Runner) transition(ctx context.Context, run *models.SetupRun, status string) error {
	run.Status = status
	run.UpdatedAt = r.now().UTC()
	err := r.db.WithContext(ctx).Model(&models.SetupRun{}).Where("id = ?", run.ID).Updates(map[string]any{
		"status":          run.Status,
		"completed_steps": run.CompletedSteps,
		"tx_hashes":       run.TxHashes,
		"error":           run.Error,
		"updated_at":      run.UpdatedAt,
	}).Error
	if err != nil {
		return fmt.Errorf("%w: persist status: %w", ErrStorage, err)
	}
	observability.VaultGateway().ObserveSetupStatus(status)
	return nil
}

// Hashes splits the persisted transaction hash list.
func Hashes(run *models.SetupRun) []string {
	if run == nil || strings.TrimSpace(run.TxHashes) == "" {
		return nil
	}
	return strings.Split(run.TxHashes, ",")
}

func appendHash(list string, hash common.Hash) string {
	if list == "" {
		return hash.Hex()
	}
	return list + "," + hash.Hex()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
