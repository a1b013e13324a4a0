// Package dag maintains the direct-edge dependency structure of a graph and
// answers the two questions the evaluator needs: is it acyclic, and in what
// order must nodes run so that every producer precedes its consumers.
//
// Only direct connections live here. Out-of-band channel edges are
// deliberately absent, which is what makes feedback through the buffer
// channel legal.
package dag
