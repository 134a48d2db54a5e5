package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pierix/crm-api/internal/models"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

func (f *fakeCustomerRepo) Create(ctx context.Context, customer *models.Customer) error {
	customer.ID = int64(len(f.customers) + 1)
	clone := *customer
	f.customers[customer.ID] = &clone
	return nil
}

func (f *fakeCustomerRepo) Delete(ctx context.Context, id int64) error {
	delete(f.customers, id)
	return nil
}

func (f *fakeCustomerRepo) List(ctx context.Context, filter models.CustomerFilter) ([]models.Customer, int, error) {
	out := make([]models.Customer, 0, len(f.customers))
	for _, customer := range f.customers {
		out = append(out, *customer)
	}
	return out, len(out), nil
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) Invalidate(ctx context.Context) { f.calls++ }

func newCustomerEnv() (*CustomerService, *fakeCustomerRepo, *fakeInvalidator) {
	repo := newFakeCustomerRepo()
	stats := &fakeInvalidator{}
	return NewCustomerService(repo, stats, zap.NewNop()), repo, stats
}

func TestCustomerCreateAppliesStageDefaults(t *testing.T) {
	svc, _, stats := newCustomerEnv()

	created, err := svc.Create(context.Background(), &models.Customer{
		FirstName: "Eva",
		LastName:  "Muster",
		Email:     "eva@example.com",
	}, 7)
	require.NoError(t, err)

	assert.Equal(t, models.CustomerStatusNew, created.Status)
	assert.Equal(t, models.PriorityMedium, created.Priority)
	assert.Equal(t, 25, created.Probability)
	require.NotNil(t, created.PipelineEntryDate)
	require.NotNil(t, created.CreatedByID)
	assert.Equal(t, int64(7), *created.CreatedByID)
	assert.Equal(t, 1, stats.calls)
}

func TestCustomerStageChangeFollowsProbability(t *testing.T) {
	svc, _, _ := newCustomerEnv()

	created, err := svc.Create(context.Background(), &models.Customer{
		FirstName: "Eva",
		LastName:  "Muster",
		Email:     "eva@example.com",
	}, 1)
	require.NoError(t, err)
	entered := created.PipelineEntryDate

	moved, err := svc.UpdateStatus(context.Background(), created.ID, models.CustomerStatusOfferCreated)
	require.NoError(t, err)
	assert.Equal(t, 60, moved.Probability)
	// Entering the pipeline happened on create; a later stage change must
	// not move the entry timestamp.
	require.NotNil(t, moved.PipelineEntryDate)
	assert.Equal(t, entered, moved.PipelineEntryDate)

	won, err := svc.UpdateStatus(context.Background(), moved.ID, models.CustomerStatusWon)
	require.NoError(t, err)
	assert.Equal(t, 100, won.Probability)
}

func TestCustomerStatusNoOpWhenUnchanged(t *testing.T) {
	svc, repo, stats := newCustomerEnv()

	created, err := svc.Create(context.Background(), &models.Customer{
		FirstName: "Eva",
		LastName:  "Muster",
		Email:     "eva@example.com",
	}, 1)
	require.NoError(t, err)
	updatesBefore := repo.updates
	callsBefore := stats.calls

	_, err = svc.UpdateStatus(context.Background(), created.ID, created.Status)
	require.NoError(t, err)
	assert.Equal(t, updatesBefore, repo.updates)
	assert.Equal(t, callsBefore, stats.calls)
}

func TestCustomerOffPipelineCreateHasNoEntryDate(t *testing.T) {
	svc, _, _ := newCustomerEnv()

	created, err := svc.Create(context.Background(), &models.Customer{
		FirstName: "Eva",
		LastName:  "Muster",
		Email:     "eva@example.com",
		Status:    models.CustomerStatusPotential,
	}, 1)
	require.NoError(t, err)
	assert.Nil(t, created.PipelineEntryDate)

	// Moving into the pipeline later stamps the entry date once.
	moved, err := svc.UpdateStatus(context.Background(), created.ID, models.CustomerStatusContacted)
	require.NoError(t, err)
	require.NotNil(t, moved.PipelineEntryDate)
	assert.Equal(t, 40, moved.Probability)
}

func TestCustomerDelete(t *testing.T) {
	svc, _, stats := newCustomerEnv()

	created, err := svc.Create(context.Background(), &models.Customer{
		FirstName: "Eva",
		LastName:  "Muster",
		Email:     "eva@example.com",
	}, 1)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID))
	assert.Equal(t, 2, stats.calls)

	err = svc.Delete(context.Background(), created.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
