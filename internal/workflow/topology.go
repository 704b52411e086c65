package workflow

const (
	TopologySequential    = "sequential"
	TopologyPlannerWorker = "planner-worker"
	TopologyManagerN      = "manager-n"
	TopologySwarm         = "swarm"
	TopologyParallel      = "parallel"
)

var fanOutTopologies = map[string]bool{
	TopologyPlannerWorker: true,
	TopologyManagerN:      true,
	TopologySwarm:         true,
	TopologyParallel:      true,
}

// KnownTopology reports whether t is a recognised topology name.
func KnownTopology(t string) bool {
	return t == TopologySequential || fanOutTopologies[t]
}

// FansOut reports whether parallel-eligible steps run through the task pool
// under topology t. Unknown topologies run sequentially.
func FansOut(t string) bool {
	return fanOutTopologies[t]
}

// Partition splits steps into the serial sequence and the fan-out set. When
// the topology does not fan out every step is serial.
func Partition(steps []Step, topology string) (serial, parallel []Step) {
	if !FansOut(topology) {
		return steps, nil
	}
	for _, s := range steps {
		if s.Parallel {
			parallel = append(parallel, s)
		} else {
			serial = append(serial, s)
		}
	}
	return serial, parallel
}
