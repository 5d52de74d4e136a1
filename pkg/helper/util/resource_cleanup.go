package util

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"wayfare/pkg/helper/errors"
	"wayfare/pkg/helper/log"
)

// ResourceCleaner provides centralized resource cleanup with proper error handling
type ResourceCleaner struct {
	resources []CleanupResource
	mutex     sync.Mutex
	logger    log.Logger
	cleaned   atomic.Bool
}

// CleanupResource represents a resource that needs cleanup
type CleanupResource struct {
	Name     string
	Cleanup  func() error
	Priority int // Higher priority resources are cleaned first
}

// NewResourceCleaner creates a new resource cleaner
func NewResourceCleaner(logger log.Logger) *ResourceCleaner {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	return &ResourceCleaner{
		resources: make([]CleanupResource, 0),
		logger:    logger,
	}
}

// AddResource adds a resource for cleanup
func (rc *ResourceCleaner) AddResource(name string, cleanup func() error, priority int) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if rc.cleaned.Load() {
		rc.logger.WithField("resource", name).Warn("Attempted to add resource to already cleaned cleaner")
		return
	}

	rc.resources = append(rc.resources, CleanupResource{
		Name:     name,
		Cleanup:  cleanup,
		Priority: priority,
	})
}

// AddCloser adds an io.Closer for cleanup
func (rc *ResourceCleaner) AddCloser(name string, closer io.Closer, priority int) {
	if closer == nil {
		return
	}
	rc.AddResource(name, func() error {
		return closer.Close()
	}, priority)
}

// AddCancelFunc adds a context cancel function for cleanup
func (rc *ResourceCleaner) AddCancelFunc(name string, cancel context.CancelFunc, priority int) {
	if cancel == nil {
		return
	}
	rc.AddResource(name, func() error {
		cancel()
		return nil
	}, priority)
}

// CleanupAll performs cleanup of all resources in priority order
func (rc *ResourceCleaner) CleanupAll() error {
	if !rc.cleaned.CompareAndSwap(false, true) {
		return nil // Already cleaned
	}

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Sort resources by priority using efficient O(n log n) algorithm instead of O(nÂ²) bubble sort
	resources := make([]CleanupResource, len(rc.resources))
	copy(resources, rc.resources)

	// Use Go's optimized sorting (introsort/quicksort hybrid) - O(n log n)
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].Priority > resources[j].Priority // Higher priority first
	})

	var cleanupErrors []error

	for _, resource := range resources {
		if resource.Cleanup != nil {
			if err := resource.Cleanup(); err != nil {
				rc.logger.WithFields(map[string]interface{}{
					"resource": resource.Name,
					"priority": resource.Priority,
				}).WithError(err).Error("Resource cleanup failed", err)
				cleanupErrors = append(cleanupErrors, errors.Wrapf(err, "cleanup failed for %s", resource.Name))
			} else {
				rc.logger.WithFields(map[string]interface{}{
					"resource": resource.Name,
					"priority": resource.Priority,
				}).Debug("Resource cleaned successfully")
			}
		}
	}

	if len(cleanupErrors) > 0 {
		return errors.Multiple(cleanupErrors...)
	}

	return nil
}

// DeferCleanupAll sets up cleanup to run when the function returns (use with defer)
func (rc *ResourceCleaner) DeferCleanupAll() {
	if err := rc.CleanupAll(); err != nil {
		rc.logger.WithError(err).Error("Deferred cleanup failed", err)
	}
}

// SafeCleanupFunc provides a helper for creating safe cleanup functions
func SafeCleanupFunc(name string, cleanup func() error, logger log.Logger) func() error {
	return func() error {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.WithField("resource", name).Error("Panic during cleanup", errors.Newf("panic: %v", r))
				}
			}
		}()

		if cleanup != nil {
			return cleanup()
		}
		return nil
	}
}

// DeferSafeCleanup sets up safe cleanup with panic recovery
func DeferSafeCleanup(name string, cleanup func() error, logger log.Logger) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.WithField("resource", name).Error("Panic during deferred cleanup", errors.Newf("panic: %v", r))
			}
		}

		if cleanup != nil {
			if err := cleanup(); err != nil && logger != nil {
				logger.WithField("resource", name).WithError(err).Error("Deferred cleanup failed", err)
			}
		}
	}()
}

