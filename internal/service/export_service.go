package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pierix/crm-api/internal/models"
	appErrors "github.com/pierix/crm-api/pkg/errors"
	"github.com/pierix/crm-api/pkg/jobs"
)

const jobTypeOfferPDF = "offer_pdf"

type offerRenderer interface {
	Render(offer *models.Offer, customer *models.Customer) ([]byte, error)
}

type exportStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type urlSigner interface {
	Sign(jobID, relPath string) (string, time.Time, error)
	Verify(token string) (jobID, relPath string, err error)
}

// ExportService renders offer PDFs in the background. Callers enqueue a
// job, poll its status and fetch the finished file through a signed URL
// that works without a session. Job state lives in process memory only.
type ExportService struct {
	offers    offerRepository
	customers offerCustomerRepository
	renderer  offerRenderer
	storage   exportStorage
	signer    urlSigner
	logger    *zap.Logger

	queue *jobs.Queue

	mu   sync.RWMutex
	jobs map[string]*models.ExportJob
}

func NewExportService(offers offerRepository, customers offerCustomerRepository, renderer offerRenderer, storage exportStorage, signer urlSigner, opts jobs.Options, logger *zap.Logger) *ExportService {
	s := &ExportService{
		offers:    offers,
		customers: customers,
		renderer:  renderer,
		storage:   storage,
		signer:    signer,
		logger:    logger,
		jobs:      make(map[string]*models.ExportJob),
	}
	s.queue = jobs.NewQueue("exports", s.process, opts, logger)
	return s
}

// Start launches the export workers.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the export workers.
func (s *ExportService) Stop() {
	s.queue.Stop()
}

// EnqueueOfferPDF queues rendering of the offer and returns the pending
// job for polling.
func (s *ExportService) EnqueueOfferPDF(ctx context.Context, offerID int64) (*models.ExportJob, error) {
	if _, err := s.offers.FindByID(ctx, offerID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "offer not found")
	}

	job := &models.ExportJob{
		ID:        uuid.NewString(),
		OfferID:   offerID,
		Status:    models.ExportJobPending,
		CreatedAt: time.Now().UTC(),
	}
	s.putJob(job)

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: jobTypeOfferPDF, Payload: offerID}); err != nil {
		s.fail(job.ID, err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "enqueue export")
	}
	return s.Job(job.ID)
}

// Job returns a snapshot of the job state.
func (s *ExportService) Job(id string) (*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	snapshot := *job
	return &snapshot, nil
}

// OpenDownload verifies a signed token and opens the referenced file.
func (s *ExportService) OpenDownload(token string) (*os.File, error) {
	_, relPath, err := s.signer.Verify(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, nil
}

func (s *ExportService) process(ctx context.Context, job jobs.Job) error {
	offerID, ok := job.Payload.(int64)
	if !ok {
		s.fail(job.ID, fmt.Errorf("unexpected payload %T", job.Payload))
		return nil
	}
	s.setStatus(job.ID, models.ExportJobRunning)

	offer, err := s.offers.FindByID(ctx, offerID)
	if err != nil {
		s.fail(job.ID, err)
		return err
	}
	customer, err := s.customers.FindByID(ctx, offer.CustomerID)
	if err != nil {
		s.fail(job.ID, err)
		return err
	}

	data, err := s.renderer.Render(offer, customer)
	if err != nil {
		s.fail(job.ID, err)
		return err
	}

	relPath := fmt.Sprintf("offers/%s-%s.pdf", offer.OfferNumber, job.ID)
	if _, err := s.storage.Save(relPath, data); err != nil {
		s.fail(job.ID, err)
		return err
	}

	token, expiresAt, err := s.signer.Sign(job.ID, relPath)
	if err != nil {
		s.fail(job.ID, err)
		return err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	if j, ok := s.jobs[job.ID]; ok {
		j.Status = models.ExportJobCompleted
		j.FilePath = relPath
		j.DownloadURL = fmt.Sprintf("/api/exports/download/%s", token)
		j.ExpiresAt = &expiresAt
		j.CompletedAt = &now
		j.Error = ""
	}
	s.mu.Unlock()

	s.logger.Info("offer pdf rendered",
		zap.String("job_id", job.ID),
		zap.Int64("offer_id", offerID),
		zap.String("file", relPath))
	return nil
}

func (s *ExportService) putJob(job *models.ExportJob) {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
}

func (s *ExportService) setStatus(id string, status models.ExportJobStatus) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.Status = status
	}
	s.mu.Unlock()
}

func (s *ExportService) fail(id string, cause error) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.Status = models.ExportJobFailed
		j.Error = cause.Error()
	}
	s.mu.Unlock()
}
