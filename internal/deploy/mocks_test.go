package deploy

import (
	"context"
	"time"

	"github.com/pipewright/pipewright/internal/gcp"
)

// Mock clients with overridable func fields. Nil funcs fall back to a
// "fresh project" default: nothing exists yet and every create succeeds.

type mockBigQuery struct {
	getDatasetFunc          func(ctx context.Context, projectID, datasetID string) (bool, string, error)
	createDatasetFunc       func(ctx context.Context, projectID, datasetID, location string) error
	tableExistsFunc         func(ctx context.Context, projectID, datasetID, tableID string) (bool, error)
	createRawEventsFunc     func(ctx context.Context, projectID, datasetID, tableID string) error
	viewExistsFunc          func(ctx context.Context, projectID, datasetID, viewID string) (bool, error)
	createViewFunc          func(ctx context.Context, projectID, datasetID, viewID, query string) error
	countMarkerRowsFunc     func(ctx context.Context, projectID, datasetID, tableID, marker string, window time.Duration) (int, error)
}

func (m *mockBigQuery) GetDataset(ctx context.Context, projectID, datasetID string) (bool, string, error) {
	if m.getDatasetFunc != nil {
		return m.getDatasetFunc(ctx, projectID, datasetID)
	}
	return false, "", nil
}

func (m *mockBigQuery) CreateDataset(ctx context.Context, projectID, datasetID, location string) error {
	if m.createDatasetFunc != nil {
		return m.createDatasetFunc(ctx, projectID, datasetID, location)
	}
	return nil
}

func (m *mockBigQuery) TableExists(ctx context.Context, projectID, datasetID, tableID string) (bool, error) {
	if m.tableExistsFunc != nil {
		return m.tableExistsFunc(ctx, projectID, datasetID, tableID)
	}
	return false, nil
}

func (m *mockBigQuery) CreateRawEventsTable(ctx context.Context, projectID, datasetID, tableID string) error {
	if m.createRawEventsFunc != nil {
		return m.createRawEventsFunc(ctx, projectID, datasetID, tableID)
	}
	return nil
}

func (m *mockBigQuery) ViewExists(ctx context.Context, projectID, datasetID, viewID string) (bool, error) {
	if m.viewExistsFunc != nil {
		return m.viewExistsFunc(ctx, projectID, datasetID, viewID)
	}
	return false, nil
}

func (m *mockBigQuery) CreateView(ctx context.Context, projectID, datasetID, viewID, query string) error {
	if m.createViewFunc != nil {
		return m.createViewFunc(ctx, projectID, datasetID, viewID, query)
	}
	return nil
}

func (m *mockBigQuery) CountMarkerRows(
	ctx context.Context,
	projectID, datasetID, tableID, marker string,
	window time.Duration,
) (int, error) {
	if m.countMarkerRowsFunc != nil {
		return m.countMarkerRowsFunc(ctx, projectID, datasetID, tableID, marker, window)
	}
	return 1, nil
}

type mockPubSub struct {
	topicExistsFunc           func(ctx context.Context, projectID, topicID string) (bool, error)
	createTopicFunc           func(ctx context.Context, projectID, topicID string) error
	subscriptionExistsFunc    func(ctx context.Context, projectID, subscriptionID string) (bool, error)
	createSubscriptionFunc    func(ctx context.Context, projectID, subscriptionID, topicID string, ackDeadline time.Duration) error
	grantTopicPublisherFunc   func(ctx context.Context, projectID, topicID, member string) error
	topicPublisherGrantedFunc func(ctx context.Context, projectID, topicID, member string) (bool, error)
	receiveMarkerFunc         func(ctx context.Context, projectID, subscriptionID, marker string, wait time.Duration) (int, error)
}

func (m *mockPubSub) TopicExists(ctx context.Context, projectID, topicID string) (bool, error) {
	if m.topicExistsFunc != nil {
		return m.topicExistsFunc(ctx, projectID, topicID)
	}
	return false, nil
}

func (m *mockPubSub) CreateTopic(ctx context.Context, projectID, topicID string) error {
	if m.createTopicFunc != nil {
		return m.createTopicFunc(ctx, projectID, topicID)
	}
	return nil
}

func (m *mockPubSub) SubscriptionExists(ctx context.Context, projectID, subscriptionID string) (bool, error) {
	if m.subscriptionExistsFunc != nil {
		return m.subscriptionExistsFunc(ctx, projectID, subscriptionID)
	}
	return false, nil
}

func (m *mockPubSub) CreateSubscription(
	ctx context.Context,
	projectID, subscriptionID, topicID string,
	ackDeadline time.Duration,
) error {
	if m.createSubscriptionFunc != nil {
		return m.createSubscriptionFunc(ctx, projectID, subscriptionID, topicID, ackDeadline)
	}
	return nil
}

func (m *mockPubSub) GrantTopicPublisher(ctx context.Context, projectID, topicID, member string) error {
	if m.grantTopicPublisherFunc != nil {
		return m.grantTopicPublisherFunc(ctx, projectID, topicID, member)
	}
	return nil
}

func (m *mockPubSub) TopicPublisherGranted(ctx context.Context, projectID, topicID, member string) (bool, error) {
	if m.topicPublisherGrantedFunc != nil {
		return m.topicPublisherGrantedFunc(ctx, projectID, topicID, member)
	}
	return true, nil
}

func (m *mockPubSub) ReceiveMarker(
	ctx context.Context,
	projectID, subscriptionID, marker string,
	wait time.Duration,
) (int, error) {
	if m.receiveMarkerFunc != nil {
		return m.receiveMarkerFunc(ctx, projectID, subscriptionID, marker, wait)
	}
	return 1, nil
}

type mockLogging struct {
	getSinkFunc            func(ctx context.Context, projectID, sinkID string) (bool, string, string, error)
	createSinkFunc         func(ctx context.Context, projectID, sinkID, destination, filter string) (string, error)
	writeMarkerEntryFunc   func(ctx context.Context, projectID, logName, marker string, payload map[string]string) error
	countMarkerEntriesFunc func(ctx context.Context, projectID, logName, marker string, since time.Time) (int, error)
}

const testWriterIdentity = "serviceAccount:sink-writer@gcp-sa-logging.iam.gserviceaccount.com"

func (m *mockLogging) GetSink(ctx context.Context, projectID, sinkID string) (bool, string, string, error) {
	if m.getSinkFunc != nil {
		return m.getSinkFunc(ctx, projectID, sinkID)
	}
	return false, "", "", nil
}

func (m *mockLogging) CreateSink(
	ctx context.Context,
	projectID, sinkID, destination, filter string,
) (string, error) {
	if m.createSinkFunc != nil {
		return m.createSinkFunc(ctx, projectID, sinkID, destination, filter)
	}
	return testWriterIdentity, nil
}

func (m *mockLogging) WriteMarkerEntry(
	ctx context.Context,
	projectID, logName, marker string,
	payload map[string]string,
) error {
	if m.writeMarkerEntryFunc != nil {
		return m.writeMarkerEntryFunc(ctx, projectID, logName, marker, payload)
	}
	return nil
}

func (m *mockLogging) CountMarkerEntries(
	ctx context.Context,
	projectID, logName, marker string,
	since time.Time,
) (int, error) {
	if m.countMarkerEntriesFunc != nil {
		return m.countMarkerEntriesFunc(ctx, projectID, logName, marker, since)
	}
	return 1, nil
}

type mockDataflow struct {
	findJobFunc        func(ctx context.Context, projectID, region, jobName string) (string, string, error)
	launchTemplateFunc func(ctx context.Context, projectID, region, jobName, templatePath string, parameters map[string]string, env gcp.JobEnvironment) (string, error)
	jobStateFunc       func(ctx context.Context, projectID, region, jobID string) (string, error)
}

func (m *mockDataflow) FindJob(ctx context.Context, projectID, region, jobName string) (string, string, error) {
	if m.findJobFunc != nil {
		return m.findJobFunc(ctx, projectID, region, jobName)
	}
	return "", "", nil
}

func (m *mockDataflow) LaunchTemplate(
	ctx context.Context,
	projectID, region, jobName, templatePath string,
	parameters map[string]string,
	env gcp.JobEnvironment,
) (string, error) {
	if m.launchTemplateFunc != nil {
		return m.launchTemplateFunc(ctx, projectID, region, jobName, templatePath, parameters, env)
	}
	return "job-123", nil
}

func (m *mockDataflow) JobState(ctx context.Context, projectID, region, jobID string) (string, error) {
	if m.jobStateFunc != nil {
		return m.jobStateFunc(ctx, projectID, region, jobID)
	}
	return gcp.JobStateRunning, nil
}

type mockStorage struct {
	getBucketFunc    func(ctx context.Context, bucketName string) (bool, string, error)
	createBucketFunc func(ctx context.Context, projectID, bucketName, location string) error
	objectExistsFunc func(ctx context.Context, bucketName, objectName string) (bool, error)
	uploadObjectFunc func(ctx context.Context, bucketName, objectName string, contents []byte) error
}

func (m *mockStorage) GetBucket(ctx context.Context, bucketName string) (bool, string, error) {
	if m.getBucketFunc != nil {
		return m.getBucketFunc(ctx, bucketName)
	}
	return false, "", nil
}

func (m *mockStorage) CreateBucket(ctx context.Context, projectID, bucketName, location string) error {
	if m.createBucketFunc != nil {
		return m.createBucketFunc(ctx, projectID, bucketName, location)
	}
	return nil
}

func (m *mockStorage) ObjectExists(ctx context.Context, bucketName, objectName string) (bool, error) {
	if m.objectExistsFunc != nil {
		return m.objectExistsFunc(ctx, bucketName, objectName)
	}
	return false, nil
}

func (m *mockStorage) UploadObject(ctx context.Context, bucketName, objectName string, contents []byte) error {
	if m.uploadObjectFunc != nil {
		return m.uploadObjectFunc(ctx, bucketName, objectName, contents)
	}
	return nil
}

type mockIAM struct {
	hasProjectBindingFunc    func(ctx context.Context, projectID, member, role string) (bool, error)
	addProjectBindingFunc    func(ctx context.Context, projectID, member, role string) error
	serviceAccountExistsFunc func(ctx context.Context, projectID, email string) (bool, error)
	projectNumberFunc        func(ctx context.Context, projectID string) (string, error)
	callerIdentityFunc       func(ctx context.Context, projectID string) (string, error)
}

func (m *mockIAM) HasProjectBinding(ctx context.Context, projectID, member, role string) (bool, error) {
	if m.hasProjectBindingFunc != nil {
		return m.hasProjectBindingFunc(ctx, projectID, member, role)
	}
	return true, nil
}

func (m *mockIAM) AddProjectBinding(ctx context.Context, projectID, member, role string) error {
	if m.addProjectBindingFunc != nil {
		return m.addProjectBindingFunc(ctx, projectID, member, role)
	}
	return nil
}

func (m *mockIAM) ServiceAccountExists(ctx context.Context, projectID, email string) (bool, error) {
	if m.serviceAccountExistsFunc != nil {
		return m.serviceAccountExistsFunc(ctx, projectID, email)
	}
	return true, nil
}

func (m *mockIAM) ProjectNumber(ctx context.Context, projectID string) (string, error) {
	if m.projectNumberFunc != nil {
		return m.projectNumberFunc(ctx, projectID)
	}
	return "123456789", nil
}

func (m *mockIAM) CallerIdentity(ctx context.Context, projectID string) (string, error) {
	if m.callerIdentityFunc != nil {
		return m.callerIdentityFunc(ctx, projectID)
	}
	return projectID, nil
}

type mockServiceUsage struct {
	enableServicesFunc func(ctx context.Context, projectID string, services []string) error
	serviceEnabledFunc func(ctx context.Context, projectID, service string) (bool, error)
}

func (m *mockServiceUsage) EnableServices(ctx context.Context, projectID string, services []string) error {
	if m.enableServicesFunc != nil {
		return m.enableServicesFunc(ctx, projectID, services)
	}
	return nil
}

func (m *mockServiceUsage) ServiceEnabled(ctx context.Context, projectID, service string) (bool, error) {
	if m.serviceEnabledFunc != nil {
		return m.serviceEnabledFunc(ctx, projectID, service)
	}
	return true, nil
}

// freshClients returns a client set simulating a project where nothing has
// been provisioned yet.
func freshClients() *gcp.Clients {
	return &gcp.Clients{
		BigQuery:     &mockBigQuery{},
		PubSub:       &mockPubSub{},
		Logging:      &mockLogging{},
		Dataflow:     &mockDataflow{},
		Storage:      &mockStorage{},
		IAM:          &mockIAM{},
		ServiceUsage: &mockServiceUsage{},
	}
}
