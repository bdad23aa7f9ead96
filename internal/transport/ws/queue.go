package ws

import "sync"

// roomQueues сериализует мутирующие операции по комнате: один worker на
// комнату, FIFO. Персист и broadcast выполняются внутри одной задачи, поэтому
// порядок рассылки совпадает с порядком коммитов при любом чередовании
// конкурентных отправителей. Worker живёт, пока очередь непуста.
type roomQueues struct {
	mu     sync.Mutex
	queues map[string]*roomQueue
	wg     sync.WaitGroup
}

type roomQueue struct {
	tasks   []func()
	running bool
}

func newRoomQueues() *roomQueues {
	return &roomQueues{queues: make(map[string]*roomQueue)}
}

// Do ставит задачу в очередь комнаты; worker поднимается лениво.
func (m *roomQueues) Do(roomID string, task func()) {
	m.mu.Lock()
	q, ok := m.queues[roomID]
	if !ok {
		q = &roomQueue{}
		m.queues[roomID] = q
	}
	q.tasks = append(q.tasks, task)
	m.wg.Add(1)
	if !q.running {
		q.running = true
		go m.drain(roomID, q)
	}
	m.mu.Unlock()
}

func (m *roomQueues) drain(roomID string, q *roomQueue) {
	for {
		m.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			delete(m.queues, roomID)
			m.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		m.mu.Unlock()

		task()
		m.wg.Done()
	}
}

// Drain дожидается выполнения всех поставленных задач (graceful shutdown).
func (m *roomQueues) Drain() {
	m.wg.Wait()
}
