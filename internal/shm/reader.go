//go:build linux && cgo

package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>

// Layout written by the capture daemon
#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    float brightness_avg;
    uint32_t brightness_lux;
    uint8_t brightness_zone;
    uint8_t correction_applied;
    uint8_t _reserved[2];
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    uint8_t new_frame_sem[32];
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

static SharedFrameBuffer* open_shm(const char* name) {
    int fd = shm_open(name, O_RDONLY, 0);
    if (fd == -1) {
        return NULL;
    }
    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL, sizeof(SharedFrameBuffer), PROT_READ, MAP_SHARED, fd, 0);
    close(fd);
    if (shm == MAP_FAILED) {
        return NULL;
    }
    return shm;
}

static void close_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

static uint32_t get_write_index(SharedFrameBuffer* shm) {
    return shm->write_index;
}

static const Frame* frame_at(SharedFrameBuffer* shm, uint32_t index) {
    return &shm->frames[index % RING_BUFFER_SIZE];
}

static uint64_t frame_number(const Frame* f) {
    return ((volatile const Frame*)f)->frame_number;
}
*/
import "C"
import (
	"fmt"
	"time"
	"unsafe"

	"github.com/cloudacy/barcode-scanner/pkg/types"
)

const (
	// Format constants written by the capture daemon
	shmFormatJPEG = 0
	shmFormatNV12 = 1
	shmFormatRGB  = 2
	shmFormatH264 = 3

	maxFrameSize = 1920 * 1080 * 3 / 2
)

// Reader reads the newest frame from the capture daemon's ring buffer
type Reader struct {
	shm     *C.SharedFrameBuffer
	shmName string
}

// NewReader opens shmName, retrying once a second for up to wait
func NewReader(shmName string, wait time.Duration) (*Reader, error) {
	cName := C.CString(shmName)
	defer C.free(unsafe.Pointer(cName))

	deadline := time.Now().Add(wait)
	var shm *C.SharedFrameBuffer
	for i := 0; ; i++ {
		shm = C.open_shm(cName)
		if shm != nil || !time.Now().Before(deadline) {
			break
		}
		// Log waiting status (only every 5 seconds to reduce noise)
		if i%5 == 0 {
			log.Info("Waiting for shared memory %s to appear...", shmName)
		}
		time.Sleep(time.Second)
	}
	if shm == nil {
		return nil, fmt.Errorf("failed to open shared memory %s", shmName)
	}

	log.Info("Opened shared memory %s", shmName)
	return &Reader{shm: shm, shmName: shmName}, nil
}

// Close unmaps the ring buffer
func (r *Reader) Close() error {
	if r.shm != nil {
		C.close_shm(r.shm)
		r.shm = nil
	}
	return nil
}

// ReadLatest copies the newest frame. It returns nil when nothing was
// written yet, the slot holds a format the scanner cannot use, or the
// writer overwrote the slot during the copy.
func (r *Reader) ReadLatest() (*types.Frame, error) {
	if r.shm == nil {
		return nil, fmt.Errorf("shared memory not open")
	}

	writeIndex := uint32(C.get_write_index(r.shm))
	if writeIndex == 0 {
		return nil, nil
	}
	cFrame := C.frame_at(r.shm, C.uint32_t(writeIndex-1))

	before := uint64(C.frame_number(cFrame))
	var format types.PixelFormat
	switch int(cFrame.format) {
	case shmFormatJPEG:
		format = types.FormatJPEG
	case shmFormatNV12:
		format = types.FormatNV12
	case shmFormatRGB:
		format = types.FormatRGB
	default:
		return nil, nil
	}

	size := int(cFrame.data_size)
	if size <= 0 || size > maxFrameSize {
		return nil, fmt.Errorf("frame %d has invalid size %d", before, size)
	}
	data := C.GoBytes(unsafe.Pointer(&cFrame.data[0]), C.int(size))

	f := &types.Frame{
		Seq:       before,
		Timestamp: time.Unix(int64(cFrame.timestamp.tv_sec), int64(cFrame.timestamp.tv_nsec)),
		Width:     int(cFrame.width),
		Height:    int(cFrame.height),
		Format:    format,
		Data:      data,
	}
	if uint64(C.frame_number(cFrame)) != before {
		return nil, nil
	}
	return f, nil
}

func openReader(name string, wait time.Duration) (Source, error) {
	return NewReader(name, wait)
}
