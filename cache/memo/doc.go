// Package memo implementa o cache de agregados em cima do kv.Cache compartilhado:
// GetOrCompute monta uma chave determinística a partir do nome da computação e dos
// argumentos, devolve o valor guardado se existir e, senão, calcula, grava com o TTL
// do ponto de chamada e devolve.
//
// Uma computação que falha não grava nada. Dois processos que erram o cache ao mesmo
// tempo podem ambos recalcular; WithSingleFlight colapsa isso dentro de um processo.
package memo
