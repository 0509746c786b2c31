//go:build e2e

// Package e2e contains end-to-end integration tests using a real DynamoDB table.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/google/uuid"

	"github.com/jacentio/trellis/collection"
	"github.com/jacentio/trellis/document"
	"github.com/jacentio/trellis/future"
	"github.com/jacentio/trellis/remote"
	"github.com/jacentio/trellis/store"
	"github.com/jacentio/trellis/stream"
)

// Test configuration
const (
	awsProfile = "jacent-alpha-cp"

	// Table names - unique per test run to avoid conflicts
	tablePrefix = "trellis-e2e-test"
)

var (
	testID    string
	nodeTable string
	streamARN string

	ddbClient    *dynamodb.Client
	streamClient *dynamodbstreams.Client
	testStore    *store.Backend
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	// Generate unique test ID
	testID = uuid.New().String()[:8]
	nodeTable = fmt.Sprintf("%s-%s-nodes", tablePrefix, testID)

	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("Table: %s\n", nodeTable)

	profile := awsProfile
	if p := os.Getenv("TRELLIS_E2E_PROFILE"); p != "" {
		profile = p
	}

	// Initialize AWS client (uses region from profile config)
	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(profile),
	)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}

	ddbClient = dynamodb.NewFromConfig(cfg)
	streamClient = dynamodbstreams.NewFromConfig(cfg)

	if err := createTable(ctx); err != nil {
		fmt.Printf("Failed to create table: %v\n", err)
		os.Exit(1)
	}

	testStore = store.New(ddbClient, store.Config{
		Table:     nodeTable,
		NumShards: 4,
	})

	code := m.Run()

	if err := deleteTable(ctx); err != nil {
		fmt.Printf("Failed to delete table: %v\n", err)
	}

	os.Exit(code)
}

func createTable(ctx context.Context) error {
	fmt.Println("Creating test table...")

	out, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(nodeTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", nodeTable, err)
	}
	streamARN = aws.ToString(out.TableDescription.LatestStreamArn)

	waiter := dynamodb.NewTableExistsWaiter(ddbClient)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(nodeTable),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", nodeTable, err)
	}

	fmt.Println("Table created and active")
	return nil
}

func deleteTable(ctx context.Context) error {
	fmt.Println("Deleting test table...")

	_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(nodeTable),
	})
	if err != nil {
		fmt.Printf("Warning: failed to delete table %s: %v\n", nodeTable, err)
	}
	return nil
}

// uniquePath scopes a test to its own subtree.
func uniquePath(name string) string {
	return name + "-" + uuid.New().String()[:8]
}

func await[T any](t *testing.T, f *future.Future[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	return v
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// --- Store Tests ---

func TestSet_CreatesNode(t *testing.T) {
	ctx := context.Background()
	room := uniquePath("rooms") + "/lobby"

	await(t, testStore.Source().Ref(room).Set(map[string]any{"title": "Lobby"}))

	node, err := testStore.GetNode(ctx, room)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if node.Version != 1 {
		t.Errorf("expected version 1, got %d", node.Version)
	}
	if node.CreatedAt == "" || node.UpdatedAt == "" {
		t.Error("expected created_at and updated_at to be set")
	}
	if !remote.Equal(node.Value, map[string]any{"title": "Lobby"}) {
		t.Errorf("unexpected value %v", node.Value)
	}
}

func TestSet_FieldWriteBumpsVersion(t *testing.T) {
	ctx := context.Background()
	room := uniquePath("rooms") + "/lobby"
	ref := testStore.Source().Ref(room)

	await(t, ref.Set(map[string]any{"title": "Lobby"}))
	await(t, ref.Child("title").Set("Main hall"))

	node, err := testStore.GetNode(ctx, room)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if node.Version != 2 {
		t.Errorf("expected version 2, got %d", node.Version)
	}

	snap := await(t, ref.Child("title").Get())
	if snap.Value != "Main hall" {
		t.Errorf("expected 'Main hall', got %v", snap.Value)
	}
}

func TestRemove_SoftDeleteSetsTTL(t *testing.T) {
	ctx := context.Background()
	room := uniquePath("rooms") + "/lobby"
	ref := testStore.Source().Ref(room)

	await(t, ref.Set("x"))
	await(t, ref.Remove())

	out, err := ddbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(nodeTable),
		Key:            store.NodeKey(room, testStore.Config().NumShards),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !store.IsDeleted(out.Item) {
		t.Error("expected item to be soft deleted")
	}

	if snap := await(t, ref.Get()); snap.Value != nil {
		t.Errorf("expected nil after remove, got %v", snap.Value)
	}
}

func TestQueryChildren_FiltersDeleted(t *testing.T) {
	ctx := context.Background()
	list := uniquePath("lists")
	ref := testStore.Source().Ref(list)

	a := await(t, ref.Push("a"))
	b := await(t, ref.Push("b"))
	await(t, ref.Child(a).Remove())

	nodes, err := testStore.QueryChildren(ctx, list)
	if err != nil {
		t.Fatalf("QueryChildren failed: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Key() != b {
		t.Errorf("expected only %s, got %d nodes", b, len(nodes))
	}
}

func TestCascadeRemove_DeepHierarchy(t *testing.T) {
	ctx := context.Background()
	root := uniquePath("orgs")
	src := testStore.Source()

	await(t, src.Ref(root).Update(map[string]any{
		"studios": map[string]any{"s1": map[string]any{"name": "one"}},
	}))
	await(t, src.Ref(root+"/studios/s1/titles").Push(map[string]any{"name": "t"}))

	ttl := time.Now().Unix()
	if _, err := testStore.CascadeRemove(ctx, root, ttl); err != nil {
		t.Fatalf("CascadeRemove failed: %v", err)
	}

	nodes, err := testStore.QueryChildren(ctx, root)
	if err != nil {
		t.Fatalf("QueryChildren failed: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("expected no live children, got %d", len(nodes))
	}
}

func TestUpdate_VersionConflictSurfaces(t *testing.T) {
	ctx := context.Background()
	room := uniquePath("rooms") + "/lobby"
	ref := testStore.Source().Ref(room)
	await(t, ref.Set(map[string]any{"n": 0}))

	// many concurrent increments through separate backends race on the version
	writers := make([]*future.Future[struct{}], 10)
	for i := range writers {
		b := store.New(ddbClient, testStore.Config())
		writers[i] = b.Source().Ref(room).Update(map[string]any{fmt.Sprintf("w%d", i): i})
	}

	var conflicts int
	for _, w := range writers {
		wctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := w.Await(wctx)
		cancel()
		if errors.Is(err, store.ErrConcurrentModification) {
			conflicts++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	node, err := testStore.GetNode(ctx, room)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if node.Version != int64(1+len(writers)-conflicts) {
		t.Errorf("expected version %d, got %d", 1+len(writers)-conflicts, node.Version)
	}
}

// --- Synchronizer and Document Tests ---

func TestSynchronizer_ScrollMore(t *testing.T) {
	messages := uniquePath("rooms") + "/messages"
	ref := testStore.Source().Ref(messages)

	var keys []string
	for i := 0; i < 5; i++ {
		keys = append(keys, await(t, ref.Push(map[string]any{"n": i})))
	}

	s, err := collection.New(collection.Config{
		Source:      testStore.Source(),
		Path:        messages,
		OrderByKey:  true,
		LimitToLast: 2,
	}, collection.Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Mount(); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	defer s.Unmount()

	eventually(t, 10*time.Second, func() bool { return s.Snapshot().Len() == 2 })
	if got := s.Snapshot().Keys(); got[0] != keys[3] || got[1] != keys[4] {
		t.Errorf("expected last two keys, got %v", got)
	}

	if err := s.ScrollMore(); err != nil {
		t.Fatalf("ScrollMore failed: %v", err)
	}
	eventually(t, 10*time.Second, func() bool { return s.Snapshot().Len() == 4 })
}

func TestDocument_FollowsStreamChanges(t *testing.T) {
	if streamARN == "" {
		t.Skip("table has no stream")
	}
	room := uniquePath("rooms") + "/lobby"

	// a second backend plays the remote writer
	writer := store.New(ddbClient, testStore.Config())
	await(t, writer.Source().Ref(room).Set(map[string]any{"title": "Lobby"}))

	doc := document.Open(testStore.Source(), room)
	defer doc.Close()
	await(t, doc.FirstValue())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller := stream.NewPoller(streamClient, streamARN, 500*time.Millisecond, stream.NewHandler(testStore, testStore, nil), nil)
	go func() { _ = poller.Run(ctx) }()

	// the poller starts at LATEST, give it a moment to take its iterators
	time.Sleep(2 * time.Second)
	await(t, writer.Source().Ref(room+"/title").Set("Main hall"))

	eventually(t, 30*time.Second, func() bool {
		v, err := doc.Peek()
		if err != nil {
			return false
		}
		m, ok := v.(map[string]any)
		return ok && m["title"] == "Main hall"
	})
}
