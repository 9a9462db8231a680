package ports

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bluegreen-cd/internal/model"
	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/internal/repository"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

func testRanges() config.PortsConfig {
	return config.PortsConfig{
		constants.EnvClassProduction: {
			constants.ResourceTypeApp:      {Start: 4100, End: 4104},
			constants.ResourceTypeDatabase: {Start: 4200, End: 4201},
		},
		constants.EnvClassStaging: {
			constants.ResourceTypeApp: {Start: 3100, End: 3104},
		},
	}
}

type stubScanner struct {
	mu    sync.Mutex
	live  map[int]bool
	err   error
	calls int
}

func (s *stubScanner) ListeningPorts(ctx context.Context, envClass string) (map[int]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int]bool, len(s.live))
	for p := range s.live {
		out[p] = true
	}
	return out, nil
}

func newTestAllocator(scanner SocketScanner) (*Allocator, *repository.MemoryPortRepository) {
	repo := repository.NewMemoryPortRepository()
	return NewAllocator(testRanges(), repo, scanner, zap.NewNop()), repo
}

func TestAllocateLowestFree(t *testing.T) {
	alloc, _ := newTestAllocator(nil)
	ctx := context.Background()

	port, err := alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeApp,
		OwnerKey("shop", "prod", constants.ResourceTypeApp), "shop")
	require.NoError(t, err)
	assert.Equal(t, 4100, port)

	port, err = alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeApp,
		OwnerKey("blog", "prod", constants.ResourceTypeApp), "blog")
	require.NoError(t, err)
	assert.Equal(t, 4101, port)
}

func TestAllocateIdempotentPerOwner(t *testing.T) {
	alloc, _ := newTestAllocator(nil)
	ctx := context.Background()
	owner := OwnerKey("shop", "prod", constants.ResourceTypeApp)

	first, err := alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeApp, owner, "shop")
	require.NoError(t, err)
	second, err := alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeApp, owner, "shop")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	allocs, err := alloc.repo.ListByClass(constants.EnvClassProduction)
	require.NoError(t, err)
	assert.Len(t, allocs, 1)
}

func TestAllocateSkipsLivePorts(t *testing.T) {
	scanner := &stubScanner{live: map[int]bool{4100: true, 4101: true}}
	alloc, _ := newTestAllocator(scanner)

	port, err := alloc.Allocate(context.Background(), constants.EnvClassProduction, constants.ResourceTypeApp,
		OwnerKey("shop", "prod", constants.ResourceTypeApp), "shop")
	require.NoError(t, err)
	assert.Equal(t, 4102, port)
	assert.Equal(t, 1, scanner.calls)
}

func TestAllocateScanFailureFallsBackToLedger(t *testing.T) {
	scanner := &stubScanner{err: assert.AnError}
	alloc, _ := newTestAllocator(scanner)

	port, err := alloc.Allocate(context.Background(), constants.EnvClassProduction, constants.ResourceTypeApp,
		OwnerKey("shop", "prod", constants.ResourceTypeApp), "shop")
	require.NoError(t, err)
	assert.Equal(t, 4100, port)
}

func TestAllocateExhausted(t *testing.T) {
	alloc, _ := newTestAllocator(nil)
	ctx := context.Background()

	// db段只有两个端口
	for i, project := range []string{"a", "b"} {
		port, err := alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeDatabase,
			OwnerKey(project, "prod", constants.ResourceTypeDatabase), project)
		require.NoError(t, err)
		assert.Equal(t, 4200+i, port)
	}

	_, err := alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeDatabase,
		OwnerKey("c", "prod", constants.ResourceTypeDatabase), "c")
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeResourceExhausted))
}

func TestAllocateUnknownClass(t *testing.T) {
	alloc, _ := newTestAllocator(nil)
	_, err := alloc.Allocate(context.Background(), "qa", constants.ResourceTypeApp, "x/qa/app", "x")
	require.Error(t, err)
	assert.True(t, pkgErrors.IsCode(err, pkgErrors.CodeBadRequest))
}

func TestDeallocateThenReuse(t *testing.T) {
	alloc, _ := newTestAllocator(nil)
	ctx := context.Background()

	port, err := alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeApp,
		OwnerKey("shop", "prod", constants.ResourceTypeApp), "shop")
	require.NoError(t, err)

	require.NoError(t, alloc.Deallocate(ctx, constants.EnvClassProduction, port))

	again, err := alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeApp,
		OwnerKey("blog", "prod", constants.ResourceTypeApp), "blog")
	require.NoError(t, err)
	assert.Equal(t, port, again)
}

func TestReleaseProject(t *testing.T) {
	alloc, repo := newTestAllocator(nil)
	ctx := context.Background()

	_, err := alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeApp,
		OwnerKey("shop", "prod", constants.ResourceTypeApp), "shop")
	require.NoError(t, err)
	_, err = alloc.Allocate(ctx, constants.EnvClassStaging, constants.ResourceTypeApp,
		OwnerKey("shop", "staging", constants.ResourceTypeApp), "shop")
	require.NoError(t, err)

	require.NoError(t, alloc.ReleaseProject(ctx, "shop"))
	remaining, err := repo.ListByProject("shop")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPreviewDoesNotReserve(t *testing.T) {
	alloc, repo := newTestAllocator(nil)
	ctx := context.Background()

	_, err := alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeApp,
		OwnerKey("shop", "prod", constants.ResourceTypeApp), "shop")
	require.NoError(t, err)

	free, err := alloc.Preview(ctx, constants.EnvClassProduction, constants.ResourceTypeApp, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{4101, 4102, 4103}, free)

	allocs, err := repo.ListByClass(constants.EnvClassProduction)
	require.NoError(t, err)
	assert.Len(t, allocs, 1)
}

// 数据库仓库会把唯一索引冲突包装后抛出, 分配器必须按errors.Is识别并换端口
type conflictOncePortRepo struct {
	*repository.MemoryPortRepository
	conflicts int
}

func (r *conflictOncePortRepo) Create(alloc *model.PortAllocation) error {
	if r.conflicts > 0 {
		r.conflicts--
		return fmt.Errorf("Duplicate entry '%d': %w", alloc.Port, repository.ErrPortTaken)
	}
	return r.MemoryPortRepository.Create(alloc)
}

func TestAllocateRetriesOnWrappedConflict(t *testing.T) {
	repo := &conflictOncePortRepo{MemoryPortRepository: repository.NewMemoryPortRepository(), conflicts: 1}
	alloc := NewAllocator(testRanges(), repo, nil, zap.NewNop())

	port, err := alloc.Allocate(context.Background(), constants.EnvClassProduction, constants.ResourceTypeApp,
		OwnerKey("demo-app", "prod", constants.ResourceTypeApp), "demo-app")
	require.NoError(t, err)
	assert.Equal(t, 4101, port)
}

func TestAllocateConcurrentNoDuplicates(t *testing.T) {
	alloc, repo := newTestAllocator(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ports := make([]int, 5)
	projects := []string{"a", "b", "c", "d", "e"}
	for i, project := range projects {
		wg.Add(1)
		go func(i int, project string) {
			defer wg.Done()
			port, err := alloc.Allocate(ctx, constants.EnvClassProduction, constants.ResourceTypeApp,
				OwnerKey(project, "prod", constants.ResourceTypeApp), project)
			require.NoError(t, err)
			ports[i] = port
		}(i, project)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, p := range ports {
		assert.False(t, seen[p], "端口 %d 被重复分配", p)
		seen[p] = true
	}
	allocs, err := repo.ListByClass(constants.EnvClassProduction)
	require.NoError(t, err)
	assert.Len(t, allocs, 5)
}
