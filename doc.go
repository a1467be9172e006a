// Package mainthread provides a weighted round-robin scheduler for work that
// must run on a single consumer goroutine, such as a game or UI main thread.
//
// Any goroutine may submit tasks in one of three priority classes (HIGH,
// NORMAL, LOW). Once per tick the consumer goroutine runs them: each class
// receives credits in proportion to its weight (5:3:1 by default), credits
// left unused by idle classes are handed to classes that still have work,
// and a starvation guard forces LOW tasks through when they have waited too
// long.
//
// # Quick Start
//
// Create and start a main thread at application startup:
//
//	mt := mainthread.New(mainthread.Options{})
//	mt.Start(ctx)
//	defer mt.Stop()
//
// Submit work from any goroutine:
//
//	mt.Schedule("Render_Frame", mainthread.PriorityHigh, func(ctx context.Context) {
//		// runs on the main thread
//	})
//
// # Key Concepts
//
// Scheduler (package core): the three FIFO queues, the credit allocator and
// the starvation guard. Tick must only be called from one goroutine.
//
// TickLoop (package core): the goroutine that owns Tick, driven by a timer
// and by explicit Trigger or TickNow requests.
//
// Dispatcher (package dispatch): futures, timeouts, retries, delayed and
// repeating tasks, all expressed through Schedule.
//
// # Task Names
//
// Task names follow a Module_Action convention. The prefix before the first
// underscore groups statistics by module; names without a prefix fall under
// "Unknown". An empty name is replaced with the function's name.
//
// # Example
//
//	mt := mainthread.New(mainthread.Options{})
//	mt.Start(context.Background())
//	defer mt.Stop()
//
//	f := mainthread.Submit(mt, "Physics_Raycast", mainthread.PriorityNormal,
//		func(ctx context.Context) (float64, error) {
//			return 12.5, nil
//		})
//	dist, err := f.Wait(context.Background())
package mainthread
