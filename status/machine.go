package status

// transitions는 영속 상태 필드에 허용되는 전이 테이블입니다.
// 상태 전이 검증 권한(store.TransitionAuthority)이 이 테이블로
// 요청을 수락하거나 거부합니다.
// 게이트웨이에서 직접 확인된 페어링은 중간 상태를 거치지 않으므로
// Connected는 Idle, Disconnected, Error에서도 직행할 수 있습니다.
var transitions = map[Status][]Status{
	Idle:         {Connecting, Connected, Cooldown, Error},
	Connecting:   {QRPending, Stabilizing, Connected, Disconnected, Error, Idle},
	QRPending:    {Stabilizing, Connected, Error, Idle},
	Stabilizing:  {Connected, Disconnected, Error},
	Connected:    {Stabilizing, Disconnected, Error},
	Disconnected: {Connecting, Connected, Idle, Error},
	Error:        {Connecting, Connected, Idle},
	Cooldown:     {Connecting, Idle},
}

// CanTransition은 from에서 to로의 전이가 허용되는지 확인합니다.
// 같은 상태로의 전이는 항상 허용됩니다 (멱등 재기록).
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
