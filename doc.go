// Package ccbench implements a transactional storage engine benchmark
// harness: a protocol-polymorphic concurrent control (CC) subsystem and its
// persistent-memory-backed storage substrate. It compares Two-Phase
// Locking, OCC-NUMA, Romulus and Courier against an in-memory record table
// while writing redo/undo logs suitable for external crash recovery.
//
// Workload generators, CLI/config loading, telemetry listeners and the
// concrete B+tree/hashmap index implementations are external collaborators;
// this package and its subpackages only consume their contracts.
package ccbench
