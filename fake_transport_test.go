package eventbus

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// fakeTransport keeps one buffered channel per topic; every reader of a
// topic competes for the same channel, like members of one consumer group.
type fakeTransport struct {
	mu        sync.Mutex
	pingErr   error
	writeErr  error
	pings     int
	logs      map[string]chan Record
	readers   map[string][]*fakeReader
	writers   []*fakeWriter
	committed []Record
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		logs:    make(map[string]chan Record),
		readers: make(map[string][]*fakeReader),
	}
}

func (transport *fakeTransport) log(topic string) chan Record {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	ch, ok := transport.logs[topic]
	if !ok {
		ch = make(chan Record, 128)
		transport.logs[topic] = ch
	}
	return ch
}

func (transport *fakeTransport) inject(topic string, value []byte) {
	transport.log(topic) <- Record{Topic: topic, Value: value, Time: time.Now()}
}

func (transport *fakeTransport) Ping(ctx context.Context) error {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	transport.pings++
	return transport.pingErr
}

func (transport *fakeTransport) NewWriter() (LogWriter, error) {
	writer := &fakeWriter{transport: transport}
	transport.mu.Lock()
	transport.writers = append(transport.writers, writer)
	transport.mu.Unlock()
	return writer, nil
}

func (transport *fakeTransport) NewReader(topic, groupID string) (LogReader, error) {
	reader := &fakeReader{transport: transport, topic: topic, groupID: groupID, ch: transport.log(topic)}
	transport.mu.Lock()
	transport.readers[topic] = append(transport.readers[topic], reader)
	transport.mu.Unlock()
	return reader, nil
}

func (transport *fakeTransport) readerCount(topic string) int {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	return len(transport.readers[topic])
}

func (transport *fakeTransport) writerCount() int {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	return len(transport.writers)
}

func (transport *fakeTransport) openReaders(topic string) int {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	n := 0
	for _, reader := range transport.readers[topic] {
		if !reader.closed {
			n++
		}
	}
	return n
}

func (transport *fakeTransport) commits() []Record {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	return append([]Record(nil), transport.committed...)
}

func (transport *fakeTransport) lastWriter() *fakeWriter {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.writers) == 0 {
		return nil
	}
	return transport.writers[len(transport.writers)-1]
}

type fakeWriter struct {
	transport *fakeTransport
	mu        sync.Mutex
	attempts  int
	written   []Record
	closed    bool
}

func (writer *fakeWriter) WriteMessages(ctx context.Context, records ...Record) error {
	writer.mu.Lock()
	writer.attempts++
	writer.mu.Unlock()

	writer.transport.mu.Lock()
	err := writer.transport.writeErr
	writer.transport.mu.Unlock()
	if err != nil {
		return err
	}
	for _, record := range records {
		record.Time = time.Now()
		writer.mu.Lock()
		writer.written = append(writer.written, record)
		writer.mu.Unlock()
		writer.transport.log(record.Topic) <- record
	}
	return nil
}

func (writer *fakeWriter) Close() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	writer.closed = true
	return nil
}

func (writer *fakeWriter) snapshot() (int, []Record, bool) {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	return writer.attempts, append([]Record(nil), writer.written...), writer.closed
}

type fakeReader struct {
	transport *fakeTransport
	topic     string
	groupID   string
	ch        chan Record
	closed    bool
}

func (reader *fakeReader) FetchMessage(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case record := <-reader.ch:
		return record, nil
	}
}

func (reader *fakeReader) CommitMessages(ctx context.Context, records ...Record) error {
	reader.transport.mu.Lock()
	defer reader.transport.mu.Unlock()
	reader.transport.committed = append(reader.transport.committed, records...)
	return nil
}

func (reader *fakeReader) Close() error {
	reader.transport.mu.Lock()
	defer reader.transport.mu.Unlock()
	reader.closed = true
	return nil
}

type faultRecorder struct {
	mu     sync.Mutex
	faults []Fault
}

func (recorder *faultRecorder) handle(fault Fault) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.faults = append(recorder.faults, fault)
}

func (recorder *faultRecorder) all() []Fault {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return append([]Fault(nil), recorder.faults...)
}
