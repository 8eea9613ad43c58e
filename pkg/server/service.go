package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikeboe/research-agent/pkg/agents"
	"github.com/mikeboe/research-agent/pkg/checkpoint"
	"github.com/mikeboe/research-agent/pkg/clients"
	"github.com/mikeboe/research-agent/pkg/config"
	"github.com/mikeboe/research-agent/pkg/database"
	"github.com/mikeboe/research-agent/pkg/memory"
	"github.com/mikeboe/research-agent/pkg/research"
	"github.com/mikeboe/research-agent/pkg/research/tools"
)

type Service struct {
	DB          *database.PostgresDB
	Cfg         *config.Config
	Sessions    *research.SessionManager
	Bank        *memory.Bank
	Checkpoints *checkpoint.Service

	mu      sync.RWMutex
	running map[uuid.UUID]*research.Session // job id -> live session
}

func NewService(db *database.PostgresDB, cfg *config.Config, bank *memory.Bank, checkpoints *checkpoint.Service) *Service {
	return &Service{
		DB:          db,
		Cfg:         cfg,
		Sessions:    research.NewSessionManager(),
		Bank:        bank,
		Checkpoints: checkpoints,
		running:     make(map[uuid.UUID]*research.Session),
	}
}

type Job struct {
	ID         uuid.UUID       `json:"id"`
	Topic      string          `json:"topic"`
	Status     string          `json:"status"`
	StopReason *string         `json:"stop_reason,omitempty"`
	Report     *string         `json:"report,omitempty"`
	Sources    json.RawMessage `json:"sources,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Config     json.RawMessage `json:"config"`
}

type CreateJobRequest struct {
	Topic         string `json:"topic"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	TokenBudget   int    `json:"token_budget,omitempty"`
}

func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	cfg := research.Config{
		MaxIterations: req.MaxIterations,
		TokenBudget:   req.TokenBudget,
		CallTimeout:   s.Cfg.SearchTimeout,
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = s.Cfg.MaxIterations
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = s.Cfg.TokenBudget
	}

	configJSON, _ := json.Marshal(map[string]interface{}{
		"max_iterations": cfg.MaxIterations,
		"token_budget":   cfg.TokenBudget,
	})

	jobID := uuid.New()
	query := `
		INSERT INTO research_jobs (id, topic, status, config)
		VALUES ($1, $2, 'pending', $3)
		RETURNING id, topic, status, created_at, updated_at
	`

	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, jobID, req.Topic, configJSON).Scan(
		&job.ID, &job.Topic, &job.Status, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	// Start background worker
	go s.runWorker(job.ID, req.Topic, cfg, nil)

	return job, nil
}

// ResumeJob restarts an interrupted job from its latest checkpoint. The
// loop continues with the snapshot's sources, iteration state and next
// query; the job's original iteration and budget settings still apply.
func (s *Service) ResumeJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	if s.Checkpoints == nil {
		return nil, fmt.Errorf("checkpointing is not configured")
	}

	s.mu.RLock()
	_, live := s.running[id]
	s.mu.RUnlock()
	if live {
		return nil, fmt.Errorf("job %s is still running", id)
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	snap, err := s.Checkpoints.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	var jobCfg struct {
		MaxIterations int `json:"max_iterations"`
		TokenBudget   int `json:"token_budget"`
	}
	_ = json.Unmarshal(job.Config, &jobCfg)

	cfg := research.Config{
		MaxIterations: jobCfg.MaxIterations,
		TokenBudget:   jobCfg.TokenBudget,
		CallTimeout:   s.Cfg.SearchTimeout,
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = s.Cfg.MaxIterations
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = s.Cfg.TokenBudget
	}

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE research_jobs SET status = 'pending', updated_at = NOW() WHERE id = $1", id)

	go s.runWorker(id, job.Topic, cfg, snap)

	return job, nil
}

// ListCheckpoints reports the jobs that currently have a resume point.
func (s *Service) ListCheckpoints(ctx context.Context) ([]checkpoint.CheckpointInfo, error) {
	if s.Checkpoints == nil {
		return nil, nil
	}
	return s.Checkpoints.List(ctx)
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `
		SELECT id, topic, status, stop_reason, report, sources, created_at, updated_at, config
		FROM research_jobs
		WHERE id = $1
	`
	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.Topic, &job.Status, &job.StopReason, &job.Report, &job.Sources, &job.CreatedAt, &job.UpdatedAt, &job.Config,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	query := `
		SELECT id, topic, status, stop_reason, report, sources, created_at, updated_at, config
		FROM research_jobs
		ORDER BY created_at DESC
		LIMIT 50
	`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.Topic, &job.Status, &job.StopReason, &job.Report, &job.Sources, &job.CreatedAt, &job.UpdatedAt, &job.Config); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// JobStatus reports the live loop state for a running job, or the stored
// terminal status once the job finished.
func (s *Service) JobStatus(ctx context.Context, id uuid.UUID) (*research.Status, error) {
	s.mu.RLock()
	session, ok := s.running[id]
	s.mu.RUnlock()

	if ok {
		status := session.Status()
		return &status, nil
	}

	// Finished or never started in this process; report the terminal
	// phase from the job row.
	var status string
	err := s.DB.Pool.QueryRow(ctx, `SELECT status FROM research_jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return nil, research.ErrSessionNotFound
	}
	switch status {
	case "completed", "failed":
		return &research.Status{Phase: research.PhaseDone}, nil
	default:
		return &research.Status{Phase: research.PhaseIdle}, nil
	}
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

func (s *Service) runWorker(jobID uuid.UUID, topic string, cfg research.Config, snap *research.Snapshot) {
	ctx := context.Background()

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE research_jobs SET status = 'running', updated_at = NOW() WHERE id = $1", jobID)

	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID))

	fastModel, err := clients.GoogleAI(ctx, clients.FastModel, s.Cfg.GoogleApiKey)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Failed to init fast model: %v", err))
		return
	}
	reasoningModel, err := clients.GoogleAI(ctx, clients.ReasoningModel, s.Cfg.GoogleApiKey)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Failed to init reasoning model: %v", err))
		return
	}

	searcher := s.buildSearcher(dbLogger)
	gapAnalyzer := agents.NewGapAnalyzer(fastModel)
	gapAnalyzer.Logger = dbLogger
	refiner := agents.NewQueryRefiner(fastModel)
	refiner.Logger = dbLogger

	// Let the planner shape the opening query; later queries come from
	// refinement inside the loop. A resumed job already carries its next
	// query in the snapshot, so the planner is skipped.
	if snap == nil {
		planner := agents.NewPlanner(reasoningModel)
		planner.Logger = dbLogger
		if queries := planner.PlanQueries(ctx, topic); len(queries) > 0 {
			cfg.InitialQuery = queries[0]
		}
	}

	controller := research.NewController(cfg, searcher, gapAnalyzer, refiner)
	controller.Logger = dbLogger
	if s.Checkpoints != nil {
		controller.Checkpoint = s.Checkpoints.ForSession(jobID)
	}

	var session *research.Session
	if snap != nil {
		session = s.Sessions.Resume(ctx, *snap, controller)
	} else {
		session = s.Sessions.Start(ctx, topic, controller)
	}
	s.mu.Lock()
	s.running[jobID] = session
	s.mu.Unlock()

	result, err := session.Wait(ctx)

	s.mu.Lock()
	delete(s.running, jobID)
	s.mu.Unlock()
	s.Sessions.Remove(session.ID)

	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Research failed: %v", err))
		return
	}

	reporter := agents.NewReporter(reasoningModel)
	reporter.Logger = dbLogger
	report, err := reporter.WriteReport(ctx, result)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Report generation failed: %v", err))
		return
	}

	sourcesJSON, _ := json.Marshal(result.Sources)
	_, err = s.DB.Pool.Exec(ctx,
		"UPDATE research_jobs SET status = 'completed', stop_reason = $2, report = $3, sources = $4, updated_at = NOW() WHERE id = $1",
		jobID, string(result.StopReason), report, sourcesJSON)
	if err != nil {
		dbLogger.Error("Failed to save final report to DB", "error", err)
	}

	if s.Bank != nil {
		if err := s.Bank.StoreResult(ctx, result); err != nil {
			dbLogger.Error("Failed to store sources in memory bank", "error", err)
		}
		if err := s.Bank.StoreReport(ctx, topic, report); err != nil {
			dbLogger.Error("Failed to store report in memory bank", "error", err)
		}
		s.indexFullTexts(ctx, dbLogger, result)
	}

	if s.Checkpoints != nil {
		// Terminal jobs no longer need their resume point.
		_ = s.Checkpoints.Delete(ctx, jobID)
	}
}

// maxFullTextSources bounds OCR cost per job.
const maxFullTextSources = 2

// indexFullTexts pulls the full text of the highest-ranked paper sources
// into the memory bank. Best effort; OCR failures only cost depth.
func (s *Service) indexFullTexts(ctx context.Context, logger *slog.Logger, result *research.Result) {
	scraper, err := tools.NewPDFScraper("")
	if err != nil {
		logger.Info("Full-text indexing disabled", "error", err)
		return
	}

	indexed := 0
	for _, src := range result.Sources {
		if indexed >= maxFullTextSources {
			break
		}
		if !strings.Contains(src.URL, "arxiv.org") {
			continue
		}

		text, err := scraper.ScrapePDF(ctx, src.URL)
		if err != nil {
			logger.Warn("Failed to scrape source PDF", "url", src.URL, "error", err)
			continue
		}
		if err := s.Bank.StoreDocument(ctx, result.Topic, src.URL, src.Title, text, src.Relevance); err != nil {
			logger.Warn("Failed to store full text", "url", src.URL, "error", err)
			continue
		}
		indexed++
	}
}

func (s *Service) buildSearcher(logger *slog.Logger) research.Searcher {
	backends := []research.Searcher{tools.NewArxivSearcher(s.Cfg.MaxResults)}

	web, err := tools.NewWebSearcher(s.Cfg.TavilyApiKey, s.Cfg.MaxResults)
	if err != nil {
		logger.Warn("Web search disabled", "error", err)
	} else {
		backends = append(backends, web)
	}

	multi := tools.NewMultiSearcher(backends...)
	multi.Logger = logger
	return multi
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, reason string) {
	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID))
	dbLogger.Error(reason)

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE research_jobs SET status = 'failed', updated_at = NOW() WHERE id = $1", jobID)
}
